package enums

import "fmt"

// SettlementFlow discriminates who built and submitted the transfer. Delegated
// means an external wallet signed and submitted and we only verified the
// reference; custodial means this service built, signed and submitted with its
// own credential.
type SettlementFlow string

const (
	SettlementFlowDelegated SettlementFlow = "delegated"
	SettlementFlowCustodial SettlementFlow = "custodial"
)

var validSettlementFlows = []SettlementFlow{
	SettlementFlowDelegated,
	SettlementFlowCustodial,
}

// IsValid reports whether the value matches the canonical settlement flow enum.
func (s SettlementFlow) IsValid() bool {
	for _, candidate := range validSettlementFlows {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSettlementFlow converts the raw string to SettlementFlow.
func ParseSettlementFlow(value string) (SettlementFlow, error) {
	for _, candidate := range validSettlementFlows {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid settlement flow %q", value)
}
