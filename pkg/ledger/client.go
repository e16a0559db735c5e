package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/clipmint/clipmint-backend/pkg/config"
)

// Anchor is a recent ledger checkpoint a transfer must be bound to. Its
// validity window is controlled by the ledger, not by us.
type Anchor struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// Outcome is the tri-state result of waiting for finality. Unknown is not a
// failure: the transfer may still land after we stop watching.
type Outcome string

const (
	OutcomeFinalized Outcome = "finalized"
	OutcomeFailed    Outcome = "failed"
	OutcomeUnknown   Outcome = "unknown"
)

// Transfer is one decoded system-program transfer inside a transaction.
type Transfer struct {
	Source      solana.PublicKey
	Destination solana.PublicKey
	Lamports    uint64
}

// TransactionDetails is the decoded view of an on-ledger transaction used for
// post-hoc verification.
type TransactionDetails struct {
	Signature solana.Signature
	Slot      uint64
	Failed    bool
	FeePayer  solana.PublicKey
	Transfers []Transfer
	Memos     []string
}

const systemTransferInstruction = uint32(2)

type rpcClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
}

var _ rpcClient = (*rpc.Client)(nil)

// Client is a stateless gateway to the Solana ledger. It owns no persistent
// state; the ledger itself is the source of truth for fund movement.
type Client struct {
	rpc                 rpcClient
	commitment          rpc.CommitmentType
	confirmationTimeout time.Duration
	pollInterval        time.Duration
	requestTimeout      time.Duration
}

// New builds a ledger client from configuration.
func New(cfg config.SolanaConfig) (*Client, error) {
	if strings.TrimSpace(cfg.EndpointURL) == "" {
		return nil, fmt.Errorf("solana rpc endpoint is required")
	}
	commitment, err := parseCommitment(cfg.Commitment)
	if err != nil {
		return nil, err
	}
	return &Client{
		rpc:                 rpc.New(cfg.EndpointURL),
		commitment:          commitment,
		confirmationTimeout: cfg.ConfirmationTimeout,
		pollInterval:        cfg.PollInterval,
		requestTimeout:      cfg.RequestTimeout,
	}, nil
}

func parseCommitment(value string) (rpc.CommitmentType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "confirmed":
		return rpc.CommitmentConfirmed, nil
	case "processed":
		return rpc.CommitmentProcessed, nil
	case "finalized":
		return rpc.CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("invalid commitment %q", value)
	}
}

// Commitment reports the finality level the client confirms against.
func (c *Client) Commitment() rpc.CommitmentType {
	return c.commitment
}

// FetchAnchor retrieves a current checkpoint reference from the network.
func (c *Client) FetchAnchor(ctx context.Context) (Anchor, error) {
	ctx, cancel := c.withRequestTimeout(ctx)
	defer cancel()

	result, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return Anchor{}, fmt.Errorf("%w: fetch latest blockhash: %v", ErrNetworkUnavailable, err)
	}
	if result == nil || result.Value == nil {
		return Anchor{}, fmt.Errorf("%w: empty blockhash response", ErrNetworkUnavailable)
	}
	return Anchor{
		Blockhash:            result.Value.Blockhash,
		LastValidBlockHeight: result.Value.LastValidBlockHeight,
	}, nil
}

// Submit broadcasts a signed transaction. It never retries: resubmitting a
// transfer risks paying twice.
func (c *Client) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if tx == nil {
		return solana.Signature{}, fmt.Errorf("%w: nil transaction", ErrRejectedByLedger)
	}

	ctx, cancel := c.withRequestTimeout(ctx)
	defer cancel()

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, classifySubmitError(err)
	}
	return sig, nil
}

func classifySubmitError(err error) error {
	if isBlockhashNotFound(err) {
		return fmt.Errorf("%w: %v", ErrAnchorExpired, err)
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%w: %v", ErrRejectedByLedger, err)
	}
	return fmt.Errorf("%w: submit transaction: %v", ErrNetworkUnavailable, err)
}

func isBlockhashNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blockhash not found") || strings.Contains(msg, "blockhashnotfound")
}

// Confirm polls the ledger for the transaction's status until it reaches the
// client's commitment, fails on chain, or the confirmation budget runs out.
// Budget exhaustion yields OutcomeUnknown; it must never be read as failure.
func (c *Client) Confirm(ctx context.Context, sig solana.Signature) (Outcome, error) {
	budget := c.confirmationTimeout
	if budget <= 0 {
		budget = 60 * time.Second
	}
	interval := c.pollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		outcome, done, err := c.checkStatus(ctx, sig)
		if err != nil {
			lastErr = err
		} else if done {
			return outcome, nil
		}

		select {
		case <-ctx.Done():
			return OutcomeUnknown, lastErr
		case <-ticker.C:
		}
	}
}

func (c *Client) checkStatus(ctx context.Context, sig solana.Signature) (Outcome, bool, error) {
	result, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return OutcomeUnknown, false, fmt.Errorf("%w: signature status: %v", ErrNetworkUnavailable, err)
	}
	if result == nil || len(result.Value) == 0 || result.Value[0] == nil {
		// Not yet visible at any commitment; keep polling.
		return OutcomeUnknown, false, nil
	}

	status := result.Value[0]
	if status.Err != nil {
		return OutcomeFailed, true, nil
	}
	if commitmentReached(status.ConfirmationStatus, c.commitment) {
		return OutcomeFinalized, true, nil
	}
	return OutcomeUnknown, false, nil
}

func commitmentReached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	rank := func(value string) int {
		switch value {
		case string(rpc.ConfirmationStatusProcessed):
			return 1
		case string(rpc.ConfirmationStatusConfirmed):
			return 2
		case string(rpc.ConfirmationStatusFinalized):
			return 3
		default:
			return 0
		}
	}
	return rank(string(status)) >= rank(string(want))
}

// FetchTransaction loads and decodes a transaction by signature. A nil result
// with nil error means the ledger does not know the reference (not yet
// propagated, or invalid).
func (c *Client) FetchTransaction(ctx context.Context, sig solana.Signature) (*TransactionDetails, error) {
	ctx, cancel := c.withRequestTimeout(ctx)
	defer cancel()

	maxVersion := uint64(0)
	result, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: fetch transaction: %v", ErrNetworkUnavailable, err)
	}
	if result == nil || result.Transaction == nil {
		return nil, nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction envelope: %w", err)
	}

	details, err := decodeTransaction(tx)
	if err != nil {
		return nil, err
	}
	details.Signature = sig
	details.Slot = uint64(result.Slot)
	if result.Meta != nil && result.Meta.Err != nil {
		details.Failed = true
	}
	return details, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// Balance returns the lamport balance of an account.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	ctx, cancel := c.withRequestTimeout(ctx)
	defer cancel()

	result, err := c.rpc.GetBalance(ctx, account, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("%w: fetch balance: %v", ErrNetworkUnavailable, err)
	}
	if result == nil {
		return 0, fmt.Errorf("%w: empty balance response", ErrNetworkUnavailable)
	}
	return result.Value, nil
}

func (c *Client) withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

func decodeTransaction(tx *solana.Transaction) (*TransactionDetails, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction payload")
	}
	msg := &tx.Message

	details := &TransactionDetails{}
	if len(msg.AccountKeys) > 0 {
		details.FeePayer = msg.AccountKeys[0]
	}

	for _, inst := range msg.Instructions {
		program, err := msg.Program(inst.ProgramIDIndex)
		if err != nil {
			return nil, fmt.Errorf("resolve program id: %w", err)
		}

		switch program {
		case solana.SystemProgramID:
			transfer, ok := decodeSystemTransfer(msg, inst)
			if ok {
				details.Transfers = append(details.Transfers, transfer)
			}
		case solana.MemoProgramID:
			details.Memos = append(details.Memos, string(inst.Data))
		}
	}
	return details, nil
}

func decodeSystemTransfer(msg *solana.Message, inst solana.CompiledInstruction) (Transfer, bool) {
	data := []byte(inst.Data)
	if len(data) < 12 || binary.LittleEndian.Uint32(data[:4]) != systemTransferInstruction {
		return Transfer{}, false
	}
	if len(inst.Accounts) < 2 {
		return Transfer{}, false
	}
	source, err := msg.Account(inst.Accounts[0])
	if err != nil {
		return Transfer{}, false
	}
	destination, err := msg.Account(inst.Accounts[1])
	if err != nil {
		return Transfer{}, false
	}
	return Transfer{
		Source:      source,
		Destination: destination,
		Lamports:    binary.LittleEndian.Uint64(data[4:12]),
	}, true
}
