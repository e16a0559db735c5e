package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/multierr"

	"github.com/clipmint/clipmint-backend/internal/entitlements"
	"github.com/clipmint/clipmint-backend/internal/fees"
	"github.com/clipmint/clipmint-backend/pkg/db/models"
	pkgerrors "github.com/clipmint/clipmint-backend/pkg/errors"
	"github.com/clipmint/clipmint-backend/pkg/logger"
	"github.com/clipmint/clipmint-backend/pkg/metrics"
)

const (
	defaultBatchSize  = 100
	defaultPendingAge = 30 * time.Second
	defaultAbandonAge = 24 * time.Hour
)

// ReconcilerParams configure the pending-entitlement sweeper.
type ReconcilerParams struct {
	Logger         *logger.Logger
	Repo           entitlements.Repository
	Ledger         LedgerGateway
	Lock           Lock
	PlatformWallet string
	JobMetrics     *metrics.JobMetrics
	Settlement     *metrics.SettlementMetrics
	BatchSize      int
	PendingAge     time.Duration
	AbandonAge     time.Duration
}

// Reconciler resolves entitlements left pending by ambiguous confirmations.
// It re-reads the ledger and promotes records whose transfer landed, fails
// those whose transfer failed, and abandons references the ledger never saw.
type Reconciler struct {
	logg           *logger.Logger
	repo           entitlements.Repository
	ledger         LedgerGateway
	lock           Lock
	platformWallet solana.PublicKey
	jobMetrics     *metrics.JobMetrics
	settlement     *metrics.SettlementMetrics
	batchSize      int
	pendingAge     time.Duration
	abandonAge     time.Duration
	now            func() time.Time
}

// NewReconciler builds the sweeper.
func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("entitlement repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger gateway required")
	}
	platformWallet, err := solana.PublicKeyFromBase58(params.PlatformWallet)
	if err != nil {
		return nil, fmt.Errorf("parse platform wallet: %w", err)
	}
	if params.BatchSize <= 0 {
		params.BatchSize = defaultBatchSize
	}
	if params.PendingAge <= 0 {
		params.PendingAge = defaultPendingAge
	}
	if params.AbandonAge <= 0 {
		params.AbandonAge = defaultAbandonAge
	}
	return &Reconciler{
		logg:           params.Logger,
		repo:           params.Repo,
		ledger:         params.Ledger,
		lock:           params.Lock,
		platformWallet: platformWallet,
		jobMetrics:     params.JobMetrics,
		settlement:     params.Settlement,
		batchSize:      params.BatchSize,
		pendingAge:     params.PendingAge,
		abandonAge:     params.AbandonAge,
		now:            time.Now,
	}, nil
}

// Name identifies the job in logs and metrics.
func (r *Reconciler) Name() string { return "entitlement-reconcile" }

// Run performs one sweep. Safe to call on a ticker; overlapping runs across
// instances are excluded by the lock.
func (r *Reconciler) Run(ctx context.Context) error {
	started := r.now()
	err := r.run(ctx)
	r.jobMetrics.ObserveDuration(r.Name(), r.now().Sub(started))
	if err != nil {
		r.jobMetrics.IncFailure(r.Name())
		return err
	}
	r.jobMetrics.IncSuccess(r.Name())
	return nil
}

func (r *Reconciler) run(ctx context.Context) error {
	if r.lock != nil {
		acquired, err := r.lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire reconcile lock: %w", err)
		}
		if !acquired {
			r.logg.Info(ctx, "another instance holds the reconcile lock, skipping sweep")
			return nil
		}
		defer func() {
			if err := r.lock.Release(ctx); err != nil {
				r.logg.Warn(ctx, "release reconcile lock failed: "+err.Error())
			}
		}()
	}

	cutoff := r.now().UTC().Add(-r.pendingAge)
	records, err := r.repo.ListPending(ctx, cutoff, r.batchSize)
	if err != nil {
		return fmt.Errorf("list pending entitlements: %w", err)
	}
	r.settlement.SetPending(len(records))

	var errs []error
	resolved := 0
	for _, record := range records {
		if err := r.reconcile(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("reconcile %s: %w", record.ID, err))
			continue
		}
		resolved++
	}

	logCtx := r.logg.WithFields(ctx, map[string]any{"checked": len(records), "resolved": resolved})
	r.logg.Info(logCtx, "entitlement reconcile sweep complete")
	return multierr.Combine(errs...)
}

func (r *Reconciler) reconcile(ctx context.Context, record models.Entitlement) error {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"entitlement_id":        record.ID.String(),
		"video_id":              record.VideoID,
		"buyer_wallet":          record.BuyerWallet,
		"transaction_signature": record.TransactionSignature,
	})

	if record.TransactionSignature == "" {
		return r.abandonIfStale(ctx, record, "no transaction reference recorded")
	}
	signature, err := solana.SignatureFromBase58(record.TransactionSignature)
	if err != nil {
		r.logg.Warn(ctx, "pending entitlement carries an unparseable signature")
		return r.fail(ctx, record, "recorded transaction signature is not valid")
	}

	details, err := r.ledger.FetchTransaction(ctx, signature)
	if err != nil {
		// Transient ledger trouble; the record stays pending for the next sweep.
		return err
	}
	if details == nil {
		return r.abandonIfStale(ctx, record, "transaction never appeared on the ledger")
	}
	if details.Failed {
		return r.fail(ctx, record, "transaction failed on the ledger")
	}

	expect, err := r.expectationFor(record)
	if err != nil {
		return err
	}
	if err := verifyDetails(details, expect); err != nil {
		reason := "transaction does not match the expected payment"
		if typed := pkgerrors.As(err); typed != nil {
			reason = typed.Message()
		}
		return r.fail(ctx, record, reason)
	}

	if err := r.repo.MarkCompleted(ctx, record.ID, record.TransactionSignature, r.now().UTC()); err != nil {
		return fmt.Errorf("promote entitlement: %w", err)
	}
	r.logg.Info(ctx, "pending entitlement promoted to completed")
	return nil
}

func (r *Reconciler) expectationFor(record models.Entitlement) (expectation, error) {
	buyer, err := solana.PublicKeyFromBase58(record.BuyerWallet)
	if err != nil {
		return expectation{}, fmt.Errorf("parse buyer wallet: %w", err)
	}
	creator, err := solana.PublicKeyFromBase58(record.CreatorWallet)
	if err != nil {
		return expectation{}, fmt.Errorf("parse creator wallet: %w", err)
	}
	return expectation{
		Buyer:          buyer,
		PlatformWallet: r.platformWallet,
		CreatorWallet:  creator,
		Split: fees.Split{
			GrossAmount:   record.AmountPaid,
			PlatformFee:   record.PlatformFee,
			CreatorPayout: record.CreatorPayout,
		},
		VideoID: record.VideoID,
	}, nil
}

func (r *Reconciler) abandonIfStale(ctx context.Context, record models.Entitlement, reason string) error {
	if r.now().UTC().Sub(record.CreatedAt.UTC()) < r.abandonAge {
		return nil
	}
	return r.fail(ctx, record, reason)
}

func (r *Reconciler) fail(ctx context.Context, record models.Entitlement, reason string) error {
	if err := r.repo.MarkFailed(ctx, record.ID, reason); err != nil {
		return fmt.Errorf("mark entitlement failed: %w", err)
	}
	r.logg.Info(ctx, "pending entitlement marked failed: "+reason)
	return nil
}
