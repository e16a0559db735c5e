package ledger

import "errors"

var (
	// ErrNetworkUnavailable marks transport-level failures reaching the RPC
	// node. No transfer happened; callers may retry with backoff.
	ErrNetworkUnavailable = errors.New("ledger network unavailable")

	// ErrRejectedByLedger marks transactions the ledger itself refused
	// (insufficient funds, bad signature). Terminal for that transaction.
	ErrRejectedByLedger = errors.New("transaction rejected by ledger")

	// ErrAnchorExpired marks submissions attempted after the recent blockhash
	// fell out of the validity window. Callers must re-fetch an anchor and
	// rebuild the transaction.
	ErrAnchorExpired = errors.New("transaction anchor expired")
)
