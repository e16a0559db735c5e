package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/clipmint/clipmint-backend/internal/entitlements"
	"github.com/clipmint/clipmint-backend/internal/fees"
	"github.com/clipmint/clipmint-backend/internal/txbuilder"
	"github.com/clipmint/clipmint-backend/pkg/db/models"
	"github.com/clipmint/clipmint-backend/pkg/enums"
	pkgerrors "github.com/clipmint/clipmint-backend/pkg/errors"
	"github.com/clipmint/clipmint-backend/pkg/ledger"
	"github.com/clipmint/clipmint-backend/pkg/logger"
)

type memoryRepo struct {
	mu      sync.Mutex
	records map[string]*models.Entitlement
	upserts int
	failOn  string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: map[string]*models.Entitlement{}}
}

func repoKey(videoID, buyerWallet string) string { return videoID + "|" + buyerWallet }

func (m *memoryRepo) WithTx(tx *gorm.DB) entitlements.Repository { return m }

func (m *memoryRepo) Upsert(ctx context.Context, record *models.Entitlement) (*models.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "upsert" {
		return nil, errors.New("database unavailable")
	}
	m.upserts++
	key := repoKey(record.VideoID, record.BuyerWallet)
	if existing, ok := m.records[key]; ok {
		if existing.Status == enums.EntitlementStatusCompleted {
			return existing, nil
		}
		record.ID = existing.ID
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	clone := *record
	m.records[key] = &clone
	return &clone, nil
}

func (m *memoryRepo) MarkCompleted(ctx context.Context, id uuid.UUID, signature string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if record.ID == id && record.Status != enums.EntitlementStatusCompleted {
			record.Status = enums.EntitlementStatusCompleted
			record.TransactionSignature = signature
			record.CompletedAt = &completedAt
		}
	}
	return nil
}

func (m *memoryRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.records {
		if record.ID == id && record.Status != enums.EntitlementStatusCompleted {
			record.Status = enums.EntitlementStatusFailed
			record.FailureReason = &reason
		}
	}
	return nil
}

func (m *memoryRepo) GetByVideoAndBuyer(ctx context.Context, videoID, buyerWallet string) (*models.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.records[repoKey(videoID, buyerWallet)]; ok {
		clone := *record
		return &clone, nil
	}
	return nil, nil
}

func (m *memoryRepo) ListByBuyer(ctx context.Context, buyerWallet string, limit int) ([]models.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Entitlement
	for _, record := range m.records {
		if record.BuyerWallet == buyerWallet {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]models.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Entitlement
	for _, record := range m.records {
		if record.Status == enums.EntitlementStatusPending {
			out = append(out, *record)
		}
	}
	return out, nil
}

type stubLedger struct {
	anchorFn  func(ctx context.Context) (ledger.Anchor, error)
	submitFn  func(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	confirmFn func(ctx context.Context, sig solana.Signature) (ledger.Outcome, error)
	fetchFn   func(ctx context.Context, sig solana.Signature) (*ledger.TransactionDetails, error)
	balanceFn func(ctx context.Context, account solana.PublicKey) (uint64, error)

	mu           sync.Mutex
	confirmCalls int
	submitCalls  int
}

func (s *stubLedger) FetchAnchor(ctx context.Context) (ledger.Anchor, error) {
	if s.anchorFn != nil {
		return s.anchorFn(ctx)
	}
	hash, _ := solana.HashFromBase58("9sHcv6xwn9YkB8nxTUGKDwPwNnmqVp5oAXxU8Fdkm4J6")
	return ledger.Anchor{Blockhash: hash, LastValidBlockHeight: 500}, nil
}

func (s *stubLedger) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	s.mu.Lock()
	s.submitCalls++
	s.mu.Unlock()
	if s.submitFn != nil {
		return s.submitFn(ctx, tx)
	}
	var sig solana.Signature
	sig[0] = 0x42
	return sig, nil
}

func (s *stubLedger) Confirm(ctx context.Context, sig solana.Signature) (ledger.Outcome, error) {
	s.mu.Lock()
	s.confirmCalls++
	s.mu.Unlock()
	if s.confirmFn != nil {
		return s.confirmFn(ctx, sig)
	}
	return ledger.OutcomeFinalized, nil
}

func (s *stubLedger) FetchTransaction(ctx context.Context, sig solana.Signature) (*ledger.TransactionDetails, error) {
	if s.fetchFn != nil {
		return s.fetchFn(ctx, sig)
	}
	return nil, nil
}

func (s *stubLedger) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if s.balanceFn != nil {
		return s.balanceFn(ctx, account)
	}
	return 10_000_000_000, nil
}

type testEnv struct {
	svc      *Service
	repo     *memoryRepo
	gateway  *stubLedger
	buyer    solana.PublicKey
	creator  solana.PublicKey
	platform solana.PublicKey
	signer   *KeySigner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	buyerWallet := solana.NewWallet()
	creator := solana.NewWallet().PublicKey()
	platform := solana.NewWallet().PublicKey()

	signer, err := NewKeySigner(buyerWallet.PrivateKey.String())
	if err != nil {
		t.Fatalf("key signer: %v", err)
	}

	calc, err := fees.NewCalculator(5, 10_000_000)
	if err != nil {
		t.Fatalf("calculator: %v", err)
	}

	repo := newMemoryRepo()
	gateway := &stubLedger{}
	svc, err := NewService(Params{
		Logger:         logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled}),
		Repo:           repo,
		Ledger:         gateway,
		Calculator:     calc,
		PlatformWallet: platform.String(),
		Signer:         signer,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	return &testEnv{
		svc:      svc,
		repo:     repo,
		gateway:  gateway,
		buyer:    buyerWallet.PublicKey(),
		creator:  creator,
		platform: platform,
		signer:   signer,
	}
}

func (e *testEnv) intent(signature string) Intent {
	return Intent{
		VideoID:              "video-1",
		BuyerWallet:          e.buyer.String(),
		CreatorWallet:        e.creator.String(),
		GrossLamports:        1_000_000_000,
		TransactionSignature: signature,
	}
}

func (e *testEnv) matchingDetails(sig solana.Signature) *ledger.TransactionDetails {
	return &ledger.TransactionDetails{
		Signature: sig,
		FeePayer:  e.buyer,
		Transfers: []ledger.Transfer{
			{Source: e.buyer, Destination: e.platform, Lamports: 50_000_000},
			{Source: e.buyer, Destination: e.creator, Lamports: 950_000_000},
		},
		Memos: []string{txbuilder.PaymentMemo("video-1")},
	}
}

func delegatedSignature() (solana.Signature, string) {
	var sig solana.Signature
	sig[0] = 0x07
	return sig, sig.String()
}

func TestSettle_DelegatedHappyPath(t *testing.T) {
	env := newTestEnv(t)
	sig, encoded := delegatedSignature()

	env.gateway.confirmFn = func(ctx context.Context, s solana.Signature) (ledger.Outcome, error) {
		return ledger.OutcomeFinalized, nil
	}
	env.gateway.fetchFn = func(ctx context.Context, s solana.Signature) (*ledger.TransactionDetails, error) {
		return env.matchingDetails(sig), nil
	}

	result, err := env.svc.Settle(context.Background(), env.intent(encoded))
	if err != nil {
		t.Fatalf("Settle error: %v", err)
	}
	if result.Entitlement.Status != enums.EntitlementStatusCompleted {
		t.Fatalf("expected completed, got %s", result.Entitlement.Status)
	}
	if result.Flow != enums.SettlementFlowDelegated {
		t.Fatalf("expected delegated flow, got %s", result.Flow)
	}
	if result.Entitlement.PlatformFee != 50_000_000 || result.Entitlement.CreatorPayout != 950_000_000 {
		t.Fatalf("unexpected split on record: %+v", result.Entitlement)
	}
	if env.gateway.submitCalls != 0 {
		t.Fatal("delegated flow must not submit")
	}
}

func TestSettle_IdempotentShortCircuit(t *testing.T) {
	env := newTestEnv(t)
	sig, encoded := delegatedSignature()
	env.gateway.fetchFn = func(ctx context.Context, s solana.Signature) (*ledger.TransactionDetails, error) {
		return env.matchingDetails(sig), nil
	}

	first, err := env.svc.Settle(context.Background(), env.intent(encoded))
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}

	confirmsBefore := env.gateway.confirmCalls
	second, err := env.svc.Settle(context.Background(), env.intent(encoded))
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}

	if !second.AlreadySettled {
		t.Fatal("expected second settle to short-circuit")
	}
	if second.Entitlement.ID != first.Entitlement.ID {
		t.Fatal("expected the same entitlement record")
	}
	if env.gateway.confirmCalls != confirmsBefore {
		t.Fatal("short-circuit must not touch the ledger")
	}
}

func TestSettle_AmbiguousConfirmationRecordsPending(t *testing.T) {
	env := newTestEnv(t)
	_, encoded := delegatedSignature()

	env.gateway.confirmFn = func(ctx context.Context, s solana.Signature) (ledger.Outcome, error) {
		return ledger.OutcomeUnknown, nil
	}

	_, err := env.svc.Settle(context.Background(), env.intent(encoded))
	if !pkgerrors.HasCode(err, pkgerrors.CodeConfirmationPending) {
		t.Fatalf("expected confirmation pending, got %v", err)
	}

	record, getErr := env.repo.GetByVideoAndBuyer(context.Background(), "video-1", env.buyer.String())
	if getErr != nil || record == nil {
		t.Fatalf("expected pending record, got %v / %v", record, getErr)
	}
	if record.Status != enums.EntitlementStatusPending {
		t.Fatalf("ambiguous confirmation must record pending, got %s", record.Status)
	}
	if record.TransactionSignature != encoded {
		t.Fatalf("pending record must carry the signature, got %q", record.TransactionSignature)
	}
}

func TestSettle_OnChainFailureIsRejected(t *testing.T) {
	env := newTestEnv(t)
	_, encoded := delegatedSignature()

	env.gateway.confirmFn = func(ctx context.Context, s solana.Signature) (ledger.Outcome, error) {
		return ledger.OutcomeFailed, nil
	}

	_, err := env.svc.Settle(context.Background(), env.intent(encoded))
	if !pkgerrors.HasCode(err, pkgerrors.CodeLedgerRejected) {
		t.Fatalf("expected ledger rejected, got %v", err)
	}

	record, _ := env.repo.GetByVideoAndBuyer(context.Background(), "video-1", env.buyer.String())
	if record == nil || record.Status != enums.EntitlementStatusFailed {
		t.Fatalf("expected failed record, got %+v", record)
	}
}

func TestSettle_VerificationMismatchRejects(t *testing.T) {
	env := newTestEnv(t)
	sig, encoded := delegatedSignature()

	env.gateway.fetchFn = func(ctx context.Context, s solana.Signature) (*ledger.TransactionDetails, error) {
		details := env.matchingDetails(sig)
		details.Transfers[1].Lamports = 1
		return details, nil
	}

	_, err := env.svc.Settle(context.Background(), env.intent(encoded))
	if !pkgerrors.HasCode(err, pkgerrors.CodeVerificationMismatch) {
		t.Fatalf("expected verification mismatch, got %v", err)
	}

	record, _ := env.repo.GetByVideoAndBuyer(context.Background(), "video-1", env.buyer.String())
	if record == nil || record.Status != enums.EntitlementStatusFailed {
		t.Fatalf("mismatch must not grant, got %+v", record)
	}
}

func TestSettle_UnknownTransactionIsMismatch(t *testing.T) {
	env := newTestEnv(t)
	_, encoded := delegatedSignature()

	env.gateway.fetchFn = func(ctx context.Context, s solana.Signature) (*ledger.TransactionDetails, error) {
		return nil, nil
	}

	_, err := env.svc.Settle(context.Background(), env.intent(encoded))
	if !pkgerrors.HasCode(err, pkgerrors.CodeVerificationMismatch) {
		t.Fatalf("expected verification mismatch for unknown tx, got %v", err)
	}
}

func TestSettle_MemoForOtherVideoIsRejected(t *testing.T) {
	env := newTestEnv(t)
	sig, encoded := delegatedSignature()

	// "video-1" is a prefix of "video-12", so only an exact memo match keeps
	// the wrong video's payment from granting this entitlement.
	env.gateway.fetchFn = func(ctx context.Context, s solana.Signature) (*ledger.TransactionDetails, error) {
		details := env.matchingDetails(sig)
		details.Memos = []string{txbuilder.PaymentMemo("video-12")}
		return details, nil
	}

	_, err := env.svc.Settle(context.Background(), env.intent(encoded))
	if !pkgerrors.HasCode(err, pkgerrors.CodeVerificationMismatch) {
		t.Fatalf("expected verification mismatch, got %v", err)
	}

	record, _ := env.repo.GetByVideoAndBuyer(context.Background(), "video-1", env.buyer.String())
	if record == nil || record.Status != enums.EntitlementStatusFailed {
		t.Fatalf("memo for another video must not grant, got %+v", record)
	}
}

func TestSettle_ConcurrentCallsConvergeOnOneRecord(t *testing.T) {
	env := newTestEnv(t)
	sig, encoded := delegatedSignature()
	env.gateway.fetchFn = func(ctx context.Context, s solana.Signature) (*ledger.TransactionDetails, error) {
		return env.matchingDetails(sig), nil
	}

	const callers = 8
	results := make([]*Result, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.svc.Settle(context.Background(), env.intent(encoded))
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("settle %d: %v", i, errs[i])
		}
		if results[i].Entitlement.ID != results[0].Entitlement.ID {
			t.Fatal("concurrent settles must converge on the same entitlement")
		}
	}

	if len(env.repo.records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(env.repo.records))
	}
	record, _ := env.repo.GetByVideoAndBuyer(context.Background(), "video-1", env.buyer.String())
	if record == nil || record.Status != enums.EntitlementStatusCompleted {
		t.Fatalf("expected a single completed record, got %+v", record)
	}
}

func TestSettle_CustodialHappyPath(t *testing.T) {
	env := newTestEnv(t)

	var submitted solana.Signature
	env.gateway.submitFn = func(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
		if len(tx.Signatures) == 0 {
			t.Fatal("custodial transaction must be signed before submit")
		}
		submitted[0] = 0x55
		return submitted, nil
	}
	env.gateway.fetchFn = func(ctx context.Context, s solana.Signature) (*ledger.TransactionDetails, error) {
		return env.matchingDetails(submitted), nil
	}

	result, err := env.svc.Settle(context.Background(), env.intent(""))
	if err != nil {
		t.Fatalf("Settle error: %v", err)
	}
	if result.Flow != enums.SettlementFlowCustodial {
		t.Fatalf("expected custodial flow, got %s", result.Flow)
	}
	if result.Entitlement.Status != enums.EntitlementStatusCompleted {
		t.Fatalf("expected completed, got %s", result.Entitlement.Status)
	}
	if env.gateway.submitCalls != 1 {
		t.Fatalf("expected exactly one submit, got %d", env.gateway.submitCalls)
	}
}

func TestSettle_CustodialInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.balanceFn = func(ctx context.Context, account solana.PublicKey) (uint64, error) {
		return 100, nil
	}

	_, err := env.svc.Settle(context.Background(), env.intent(""))
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if env.gateway.submitCalls != 0 {
		t.Fatal("must not submit without funds")
	}
}

func TestSettle_CustodialSubmitClassification(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode pkgerrors.Code
	}{
		{"anchor expired", ledger.ErrAnchorExpired, pkgerrors.CodeAnchorExpired},
		{"rejected", ledger.ErrRejectedByLedger, pkgerrors.CodeLedgerRejected},
		{"network", ledger.ErrNetworkUnavailable, pkgerrors.CodeDependency},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.gateway.submitFn = func(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
				return solana.Signature{}, tc.err
			}

			_, err := env.svc.Settle(context.Background(), env.intent(""))
			if !pkgerrors.HasCode(err, tc.wantCode) {
				t.Fatalf("expected %s, got %v", tc.wantCode, err)
			}
		})
	}
}

func TestSettle_StorageFailureAfterVerifiedTransfer(t *testing.T) {
	env := newTestEnv(t)
	sig, encoded := delegatedSignature()
	env.gateway.fetchFn = func(ctx context.Context, s solana.Signature) (*ledger.TransactionDetails, error) {
		return env.matchingDetails(sig), nil
	}
	env.repo.failOn = "upsert"

	_, err := env.svc.Settle(context.Background(), env.intent(encoded))
	if !pkgerrors.HasCode(err, pkgerrors.CodeStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestSettle_Validation(t *testing.T) {
	env := newTestEnv(t)
	base := env.intent("")

	cases := []struct {
		name   string
		mutate func(*Intent)
	}{
		{"missing video id", func(i *Intent) { i.VideoID = " " }},
		{"zero amount", func(i *Intent) { i.GrossLamports = 0 }},
		{"negative amount", func(i *Intent) { i.GrossLamports = -1 }},
		{"bad buyer wallet", func(i *Intent) { i.BuyerWallet = "not-base58!" }},
		{"bad creator wallet", func(i *Intent) { i.CreatorWallet = "???" }},
		{"buyer equals creator", func(i *Intent) { i.CreatorWallet = i.BuyerWallet }},
		{"bad signature", func(i *Intent) { i.TransactionSignature = "zz" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intent := base
			tc.mutate(&intent)
			_, err := env.svc.Settle(context.Background(), intent)
			if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
