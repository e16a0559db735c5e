// Package txbuilder assembles unsigned payment transactions. It performs no
// network or signing I/O; callers supply the anchor and own submission.
package txbuilder

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/clipmint/clipmint-backend/internal/fees"
	pkgerrors "github.com/clipmint/clipmint-backend/pkg/errors"
	"github.com/clipmint/clipmint-backend/pkg/ledger"
)

// MemoPrefix annotates every payment on the ledger so transfers can be tied
// back to a video without consulting our database.
const MemoPrefix = "Video Payment: "

// PaymentMemo renders the on-ledger annotation for a video purchase.
func PaymentMemo(videoID string) string {
	return MemoPrefix + videoID
}

// Params describes one payment to assemble. Buyer pays; the split decides how
// the gross amount divides between platform and creator.
type Params struct {
	Buyer          solana.PublicKey
	PlatformWallet solana.PublicKey
	CreatorWallet  solana.PublicKey
	Split          fees.Split
	VideoID        string
}

func (p Params) validate() error {
	if p.Buyer.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer wallet is required")
	}
	if p.CreatorWallet.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "creator wallet is required")
	}
	if p.Split.PlatformFee > 0 && p.PlatformWallet.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "platform wallet is required when a fee applies")
	}
	if p.Split.CreatorPayout <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "creator payout must be greater than zero")
	}
	if p.VideoID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "video id is required")
	}
	if p.Buyer.Equals(p.CreatorWallet) {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer and creator wallets must differ")
	}
	return nil
}

// Build assembles the unsigned transaction: platform transfer (omitted when
// the fee is zero), creator transfer, then the memo annotation. The anchor
// binds the transaction to a validity window; the buyer is the fee payer.
func Build(anchor ledger.Anchor, params Params) (*solana.Transaction, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if anchor.Blockhash.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "anchor blockhash is required")
	}

	instructions := make([]solana.Instruction, 0, 3)
	if params.Split.PlatformFee > 0 {
		instructions = append(instructions, system.NewTransferInstruction(
			uint64(params.Split.PlatformFee),
			params.Buyer,
			params.PlatformWallet,
		).Build())
	}
	instructions = append(instructions, system.NewTransferInstruction(
		uint64(params.Split.CreatorPayout),
		params.Buyer,
		params.CreatorWallet,
	).Build())
	instructions = append(instructions, memoInstruction(PaymentMemo(params.VideoID)))

	tx, err := solana.NewTransaction(instructions, anchor.Blockhash, solana.TransactionPayer(params.Buyer))
	if err != nil {
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}
	return tx, nil
}

func memoInstruction(memo string) solana.Instruction {
	return solana.NewInstruction(solana.MemoProgramID, solana.AccountMetaSlice{}, []byte(memo))
}
