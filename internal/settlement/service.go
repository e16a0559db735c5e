package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/clipmint/clipmint-backend/internal/entitlements"
	"github.com/clipmint/clipmint-backend/internal/fees"
	"github.com/clipmint/clipmint-backend/internal/txbuilder"
	"github.com/clipmint/clipmint-backend/pkg/db/models"
	"github.com/clipmint/clipmint-backend/pkg/enums"
	pkgerrors "github.com/clipmint/clipmint-backend/pkg/errors"
	"github.com/clipmint/clipmint-backend/pkg/ledger"
	"github.com/clipmint/clipmint-backend/pkg/logger"
	"github.com/clipmint/clipmint-backend/pkg/metrics"
)

// LedgerGateway is the ledger surface settlement depends on.
type LedgerGateway interface {
	FetchAnchor(ctx context.Context) (ledger.Anchor, error)
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	Confirm(ctx context.Context, sig solana.Signature) (ledger.Outcome, error)
	FetchTransaction(ctx context.Context, sig solana.Signature) (*ledger.TransactionDetails, error)
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

var _ LedgerGateway = (*ledger.Client)(nil)

// Intent is one request to settle a video purchase. When
// TransactionSignature is set the buyer's wallet has already signed and
// submitted the transfer (delegated flow) and the service only verifies it;
// otherwise the service builds, signs and submits with the platform
// credential (custodial flow).
type Intent struct {
	VideoID              string
	BuyerWallet          string
	CreatorWallet        string
	GrossLamports        int64
	TransactionSignature string
}

// Result is a granted (or re-confirmed) entitlement.
type Result struct {
	Entitlement    *models.Entitlement
	Split          fees.Split
	Flow           enums.SettlementFlow
	AlreadySettled bool
}

// Params wire a settlement service.
type Params struct {
	Logger         *logger.Logger
	Repo           entitlements.Repository
	Ledger         LedgerGateway
	Calculator     *fees.Calculator
	PlatformWallet string
	Signer         Signer
	Metrics        *metrics.SettlementMetrics
}

// Service drives a payment from intent to recorded entitlement. It holds no
// cross-request state and takes no locks around ledger round trips: the
// database's unique (video_id, buyer_wallet) key arbitrates races.
type Service struct {
	logg           *logger.Logger
	repo           entitlements.Repository
	ledger         LedgerGateway
	calc           *fees.Calculator
	platformWallet solana.PublicKey
	signer         Signer
	metrics        *metrics.SettlementMetrics
	now            func() time.Time
}

// NewService validates dependencies and builds the settlement service.
func NewService(params Params) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("entitlement repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger gateway required")
	}
	if params.Calculator == nil {
		return nil, fmt.Errorf("fee calculator required")
	}
	platformWallet, err := solana.PublicKeyFromBase58(params.PlatformWallet)
	if err != nil {
		return nil, fmt.Errorf("parse platform wallet: %w", err)
	}
	return &Service{
		logg:           params.Logger,
		repo:           params.Repo,
		ledger:         params.Ledger,
		calc:           params.Calculator,
		platformWallet: platformWallet,
		signer:         params.Signer,
		metrics:        params.Metrics,
		now:            time.Now,
	}, nil
}

type parsedIntent struct {
	buyer     solana.PublicKey
	creator   solana.PublicKey
	signature solana.Signature
	flow      enums.SettlementFlow
}

func (s *Service) parseIntent(intent Intent) (parsedIntent, error) {
	var parsed parsedIntent
	if strings.TrimSpace(intent.VideoID) == "" {
		return parsed, pkgerrors.New(pkgerrors.CodeValidation, "video id is required")
	}
	if intent.GrossLamports <= 0 {
		return parsed, pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}

	buyer, err := solana.PublicKeyFromBase58(strings.TrimSpace(intent.BuyerWallet))
	if err != nil {
		return parsed, pkgerrors.New(pkgerrors.CodeValidation, "buyer wallet is not a valid address")
	}
	creator, err := solana.PublicKeyFromBase58(strings.TrimSpace(intent.CreatorWallet))
	if err != nil {
		return parsed, pkgerrors.New(pkgerrors.CodeValidation, "creator wallet is not a valid address")
	}
	if buyer.Equals(creator) {
		return parsed, pkgerrors.New(pkgerrors.CodeValidation, "buyer and creator wallets must differ")
	}

	parsed.buyer = buyer
	parsed.creator = creator
	parsed.flow = enums.SettlementFlowCustodial
	if raw := strings.TrimSpace(intent.TransactionSignature); raw != "" {
		signature, err := solana.SignatureFromBase58(raw)
		if err != nil {
			return parsed, pkgerrors.New(pkgerrors.CodeValidation, "transaction signature is not valid")
		}
		parsed.signature = signature
		parsed.flow = enums.SettlementFlowDelegated
	}
	return parsed, nil
}

/// Settle runs the full settlement: validate, short-circuit on an existing
// grant, compute the split, move (or verify) funds, confirm, verify, record.
func (s *Service) Settle(ctx context.Context, intent Intent) (*Result, error) {
	parsed, err := s.parseIntent(intent)
	if err != nil {
		return nil, err
	}
	intent.VideoID = strings.TrimSpace(intent.VideoID)
	intent.BuyerWallet = parsed.buyer.String()
	intent.CreatorWallet = parsed.creator.String()

	ctx = s.logg.WithFields(ctx, map[string]any{
		"video_id":     intent.VideoID,
		"buyer_wallet": intent.BuyerWallet,
		"flow":         string(parsed.flow),
	})

	// Settling twice must be safe: a completed grant is returned as-is, with
	// no second transfer.
	existing, err := s.repo.GetByVideoAndBuyer(ctx, intent.VideoID, intent.BuyerWallet)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load entitlement record")
	}
	if existing != nil && existing.Status == enums.EntitlementStatusCompleted {
		s.logg.Info(ctx, "entitlement already granted, skipping settlement")
		s.metrics.IncAttempt(string(parsed.flow), "already_settled")
		return &Result{Entitlement: existing, Flow: existing.Flow, AlreadySettled: true}, nil
	}

	split, err := s.calc.Split(intent.GrossLamports)
	if err != nil {
		return nil, err
	}

	if parsed.flow == enums.SettlementFlowDelegated {
		return s.finishSettlement(ctx, intent, parsed, split)
	}
	return s.settleCustodial(ctx, intent, parsed, split)
}

func (s *Service) settleCustodial(ctx context.Context, intent Intent, parsed parsedIntent, split fees.Split) (*Result, error) {
	if s.signer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "custodial settlement requires a configured signing key")
	}
	if !s.signer.PublicKey().Equals(parsed.buyer) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer wallet does not match the platform signing key")
	}

	balance, err := s.ledger.Balance(ctx, parsed.buyer)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check payer balance")
	}
	if balance < uint64(split.GrossAmount) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payer balance is below the video price")
	}

	anchor, err := s.ledger.FetchAnchor(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch transaction anchor")
	}

	tx, err := txbuilder.Build(anchor, txbuilder.Params{
		Buyer:          parsed.buyer,
		PlatformWallet: s.platformWallet,
		CreatorWallet:  parsed.creator,
		Split:          split,
		VideoID:        intent.VideoID,
	})
	if err != nil {
		return nil, err
	}
	if err := s.signer.Sign(tx); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sign transaction")
	}

	signature, err := s.ledger.Submit(ctx, tx)
	if err != nil {
		return nil, s.classifySubmitFailure(ctx, parsed.flow, err)
	}
	parsed.signature = signature

	return s.finishSettlement(ctx, intent, parsed, split)
}

func (s *Service) classifySubmitFailure(ctx context.Context, flow enums.SettlementFlow, err error) error {
	switch {
	case errors.Is(err, ledger.ErrAnchorExpired):
		s.metrics.IncAttempt(string(flow), "anchor_expired")
		return pkgerrors.Wrap(pkgerrors.CodeAnchorExpired, err, "transaction anchor expired before submission")
	case errors.Is(err, ledger.ErrRejectedByLedger):
		s.metrics.IncAttempt(string(flow), "rejected")
		s.logg.Warn(ctx, "ledger rejected the payment transaction")
		return pkgerrors.Wrap(pkgerrors.CodeLedgerRejected, err, "ledger rejected the transaction")
	default:
		s.metrics.IncAttempt(string(flow), "error")
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "submit transaction")
	}
}

// finishSettlement confirms the referenced transaction, verifies it against
// the expected split, and records the grant. Both flows converge here so the
// ambiguity rules apply identically: an unknown outcome is recorded pending
// and surfaced as retryable, never as failure.
func (s *Service) finishSettlement(ctx context.Context, intent Intent, parsed parsedIntent, split fees.Split) (*Result, error) {
	ctx = s.logg.WithSignature(ctx, parsed.signature.String())

	started := s.now()
	outcome, confirmErr := s.ledger.Confirm(ctx, parsed.signature)
	s.metrics.ObserveConfirmation(string(parsed.flow), s.now().Sub(started))

	switch outcome {
	case ledger.OutcomeFailed:
		s.recordFailed(ctx, intent, parsed, split, "transaction failed on the ledger")
		s.metrics.IncAttempt(string(parsed.flow), "failed")
		return nil, pkgerrors.New(pkgerrors.CodeLedgerRejected, "transaction failed on the ledger")
	case ledger.OutcomeUnknown:
		if confirmErr != nil {
			s.logg.Warn(ctx, "confirmation ended without a definitive status")
		}
		return nil, s.recordPending(ctx, intent, parsed, split)
	}

	details, err := s.ledger.FetchTransaction(ctx, parsed.signature)
	if err != nil {
		// The transfer confirmed but we could not load it for verification.
		// Leave the record pending; the reconciler finishes the job.
		s.logg.Warn(ctx, "confirmed transaction could not be loaded for verification")
		return nil, s.recordPending(ctx, intent, parsed, split)
	}

	if err := verifyDetails(details, expectation{
		Buyer:          parsed.buyer,
		PlatformWallet: s.platformWallet,
		CreatorWallet:  parsed.creator,
		Split:          split,
		VideoID:        intent.VideoID,
	}); err != nil {
		reason := "transaction does not match the expected payment"
		if typed := pkgerrors.As(err); typed != nil {
			reason = typed.Message()
		}
		s.recordFailed(ctx, intent, parsed, split, reason)
		s.metrics.IncAttempt(string(parsed.flow), "verification_mismatch")
		s.logg.Warn(ctx, "payment verification mismatch: "+reason)
		return nil, err
	}

	return s.recordCompleted(ctx, intent, parsed, split)
}

func (s *Service) buildRecord(intent Intent, parsed parsedIntent, split fees.Split, status enums.EntitlementStatus) *models.Entitlement {
	return &models.Entitlement{
		VideoID:              intent.VideoID,
		BuyerWallet:          parsed.buyer.String(),
		CreatorWallet:        parsed.creator.String(),
		AmountPaid:           split.GrossAmount,
		PlatformFee:          split.PlatformFee,
		CreatorPayout:        split.CreatorPayout,
		TransactionSignature: parsed.signature.String(),
		Flow:                 parsed.flow,
		Status:               status,
	}
}

func (s *Service) recordCompleted(ctx context.Context, intent Intent, parsed parsedIntent, split fees.Split) (*Result, error) {
	record := s.buildRecord(intent, parsed, split, enums.EntitlementStatusCompleted)
	completedAt := s.now().UTC()
	record.CompletedAt = &completedAt

	stored, err := s.repo.Upsert(ctx, record)
	if err != nil {
		// Funds moved and verified but the grant is not recorded. This is the
		// worst state the system can be in; it must be loud.
		s.logg.Error(ctx, "entitlement write failed after verified transfer", err)
		s.metrics.IncAttempt(string(parsed.flow), "storage_failure")
		return nil, pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, "record entitlement")
	}

	s.metrics.IncAttempt(string(parsed.flow), "completed")
	s.logg.Info(ctx, "entitlement granted")
	return &Result{Entitlement: stored, Split: split, Flow: parsed.flow}, nil
}

func (s *Service) recordPending(ctx context.Context, intent Intent, parsed parsedIntent, split fees.Split) error {
	record := s.buildRecord(intent, parsed, split, enums.EntitlementStatusPending)

	if _, err := s.repo.Upsert(ctx, record); err != nil {
		s.logg.Error(ctx, "pending entitlement write failed after submission", err)
		s.metrics.IncAttempt(string(parsed.flow), "storage_failure")
		return pkgerrors.Wrap(pkgerrors.CodeStorageFailure, err, "record pending entitlement")
	}

	s.metrics.IncAttempt(string(parsed.flow), "pending")
	s.logg.Info(ctx, "confirmation pending, entitlement recorded for reconciliation")
	return pkgerrors.New(pkgerrors.CodeConfirmationPending, "confirmation pending for "+parsed.signature.String())
}

func (s *Service) recordFailed(ctx context.Context, intent Intent, parsed parsedIntent, split fees.Split, reason string) {
	record := s.buildRecord(intent, parsed, split, enums.EntitlementStatusFailed)
	record.FailureReason = &reason
	if _, err := s.repo.Upsert(ctx, record); err != nil {
		s.logg.Error(ctx, "failed entitlement write did not persist", err)
	}
}
