package enums

import "fmt"

// EntitlementStatus describes the allowed values for the `status` column in
// entitlements. Completed is terminal; pending rows are owned by the
// reconciler until they resolve.
type EntitlementStatus string

const (
	EntitlementStatusPending   EntitlementStatus = "pending"
	EntitlementStatusCompleted EntitlementStatus = "completed"
	EntitlementStatusFailed    EntitlementStatus = "failed"
)

var validEntitlementStatuses = []EntitlementStatus{
	EntitlementStatusPending,
	EntitlementStatusCompleted,
	EntitlementStatusFailed,
}

// IsValid reports whether the value matches the canonical entitlement status enum.
func (e EntitlementStatus) IsValid() bool {
	for _, candidate := range validEntitlementStatuses {
		if candidate == e {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from the status.
func (e EntitlementStatus) IsTerminal() bool {
	return e == EntitlementStatusCompleted || e == EntitlementStatusFailed
}

// ParseEntitlementStatus converts the raw string to EntitlementStatus.
func ParseEntitlementStatus(value string) (EntitlementStatus, error) {
	for _, candidate := range validEntitlementStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid entitlement status %q", value)
}
