package settlement

import (
	"github.com/gagliardetto/solana-go"

	"github.com/clipmint/clipmint-backend/internal/fees"
	"github.com/clipmint/clipmint-backend/internal/txbuilder"
	pkgerrors "github.com/clipmint/clipmint-backend/pkg/errors"
	"github.com/clipmint/clipmint-backend/pkg/ledger"
)

// expectation pins what a payment transaction must contain before an
// entitlement is granted: the right payer, the exact creator and platform
// legs, and the memo tying the transfer to the video.
type expectation struct {
	Buyer          solana.PublicKey
	PlatformWallet solana.PublicKey
	CreatorWallet  solana.PublicKey
	Split          fees.Split
	VideoID        string
}

func mismatch(reason string) error {
	return pkgerrors.New(pkgerrors.CodeVerificationMismatch, reason)
}

// verifyDetails structurally matches the decoded transaction against the
// expectation. Verification is deliberately strict: a transaction that moved
// the wrong amounts, between the wrong parties, or without the video memo
// grants nothing, no matter who submitted it.
func verifyDetails(details *ledger.TransactionDetails, expect expectation) error {
	if details == nil {
		return mismatch("transaction is unknown to the ledger")
	}
	if details.Failed {
		return mismatch("transaction failed on the ledger")
	}
	if !details.FeePayer.Equals(expect.Buyer) {
		return mismatch("fee payer is not the buyer wallet")
	}

	if !hasTransfer(details.Transfers, expect.Buyer, expect.CreatorWallet, uint64(expect.Split.CreatorPayout)) {
		return mismatch("creator payout leg missing or amount differs")
	}
	if expect.Split.PlatformFee > 0 &&
		!hasTransfer(details.Transfers, expect.Buyer, expect.PlatformWallet, uint64(expect.Split.PlatformFee)) {
		return mismatch("platform fee leg missing or amount differs")
	}

	if !memoMentionsVideo(details.Memos, expect.VideoID) {
		return mismatch("memo does not reference the video")
	}
	return nil
}

func hasTransfer(transfers []ledger.Transfer, source, destination solana.PublicKey, lamports uint64) bool {
	for _, transfer := range transfers {
		if transfer.Source.Equals(source) &&
			transfer.Destination.Equals(destination) &&
			transfer.Lamports == lamports {
			return true
		}
	}
	return false
}

// memoMentionsVideo requires the exact payment memo for the video. A memo
// that merely contains the identifier does not count: one video id may be a
// prefix of another.
func memoMentionsVideo(memos []string, videoID string) bool {
	want := txbuilder.PaymentMemo(videoID)
	for _, memo := range memos {
		if memo == want {
			return true
		}
	}
	return false
}
