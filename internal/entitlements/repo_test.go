package entitlements

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/clipmint/clipmint-backend/pkg/db/models"
	"github.com/clipmint/clipmint-backend/pkg/enums"
)

func setupEntitlementsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS entitlements (
  id TEXT PRIMARY KEY,
  video_id TEXT NOT NULL,
  buyer_wallet TEXT NOT NULL,
  creator_wallet TEXT NOT NULL,
  amount_paid INTEGER NOT NULL,
  platform_fee INTEGER NOT NULL,
  creator_payout INTEGER NOT NULL,
  transaction_signature TEXT NOT NULL DEFAULT '',
  flow TEXT NOT NULL DEFAULT 'delegated',
  status TEXT NOT NULL DEFAULT 'pending',
  failure_reason TEXT,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL,
  completed_at DATETIME,
  UNIQUE (video_id, buyer_wallet)
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func testRecord(status enums.EntitlementStatus) *models.Entitlement {
	return &models.Entitlement{
		VideoID:       "video-1",
		BuyerWallet:   "buyer-wallet",
		CreatorWallet: "creator-wallet",
		AmountPaid:    1_000_000_000,
		PlatformFee:   50_000_000,
		CreatorPayout: 950_000_000,
		Flow:          enums.SettlementFlowDelegated,
		Status:        status,
	}
}

func TestRepository_UpsertInserts(t *testing.T) {
	repo := NewRepository(setupEntitlementsTestDB(t))
	ctx := context.Background()

	stored, err := repo.Upsert(ctx, testRecord(enums.EntitlementStatusPending))
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, enums.EntitlementStatusPending, stored.Status)
	require.Equal(t, int64(950_000_000), stored.CreatorPayout)

	fetched, err := repo.GetByVideoAndBuyer(ctx, "video-1", "buyer-wallet")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	require.Equal(t, stored.ID, fetched.ID)
}

func TestRepository_UpsertConvergesOnOneRow(t *testing.T) {
	repo := NewRepository(setupEntitlementsTestDB(t))
	ctx := context.Background()

	first, err := repo.Upsert(ctx, testRecord(enums.EntitlementStatusPending))
	require.NoError(t, err)

	second := testRecord(enums.EntitlementStatusCompleted)
	second.TransactionSignature = "sig-abc"
	stored, err := repo.Upsert(ctx, second)
	require.NoError(t, err)

	require.Equal(t, first.ID, stored.ID)
	require.Equal(t, enums.EntitlementStatusCompleted, stored.Status)
	require.Equal(t, "sig-abc", stored.TransactionSignature)

	var count int64
	require.NoError(t, repo.(*repository).db.Model(&models.Entitlement{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestRepository_UpsertNeverDemotesCompleted(t *testing.T) {
	repo := NewRepository(setupEntitlementsTestDB(t))
	ctx := context.Background()

	completed := testRecord(enums.EntitlementStatusCompleted)
	completed.TransactionSignature = "sig-final"
	_, err := repo.Upsert(ctx, completed)
	require.NoError(t, err)

	late := testRecord(enums.EntitlementStatusPending)
	late.TransactionSignature = "sig-late"
	stored, err := repo.Upsert(ctx, late)
	require.NoError(t, err)

	require.Equal(t, enums.EntitlementStatusCompleted, stored.Status)
	require.Equal(t, "sig-final", stored.TransactionSignature)
}

func TestRepository_MarkCompleted(t *testing.T) {
	repo := NewRepository(setupEntitlementsTestDB(t))
	ctx := context.Background()

	stored, err := repo.Upsert(ctx, testRecord(enums.EntitlementStatusPending))
	require.NoError(t, err)

	completedAt := time.Now().UTC()
	require.NoError(t, repo.MarkCompleted(ctx, stored.ID, "sig-done", completedAt))

	fetched, err := repo.GetByVideoAndBuyer(ctx, "video-1", "buyer-wallet")
	require.NoError(t, err)
	require.Equal(t, enums.EntitlementStatusCompleted, fetched.Status)
	require.Equal(t, "sig-done", fetched.TransactionSignature)
	require.NotNil(t, fetched.CompletedAt)
}

func TestRepository_MarkFailedSkipsCompleted(t *testing.T) {
	repo := NewRepository(setupEntitlementsTestDB(t))
	ctx := context.Background()

	stored, err := repo.Upsert(ctx, testRecord(enums.EntitlementStatusPending))
	require.NoError(t, err)
	require.NoError(t, repo.MarkCompleted(ctx, stored.ID, "sig-done", time.Now().UTC()))

	require.NoError(t, repo.MarkFailed(ctx, stored.ID, "should not apply"))

	fetched, err := repo.GetByVideoAndBuyer(ctx, "video-1", "buyer-wallet")
	require.NoError(t, err)
	require.Equal(t, enums.EntitlementStatusCompleted, fetched.Status)
	require.Nil(t, fetched.FailureReason)
}

func TestRepository_MarkFailedSetsReason(t *testing.T) {
	repo := NewRepository(setupEntitlementsTestDB(t))
	ctx := context.Background()

	stored, err := repo.Upsert(ctx, testRecord(enums.EntitlementStatusPending))
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, stored.ID, "transaction failed on chain"))

	fetched, err := repo.GetByVideoAndBuyer(ctx, "video-1", "buyer-wallet")
	require.NoError(t, err)
	require.Equal(t, enums.EntitlementStatusFailed, fetched.Status)
	require.NotNil(t, fetched.FailureReason)
	require.Equal(t, "transaction failed on chain", *fetched.FailureReason)
}

func TestRepository_GetByVideoAndBuyerMissing(t *testing.T) {
	repo := NewRepository(setupEntitlementsTestDB(t))

	fetched, err := repo.GetByVideoAndBuyer(context.Background(), "nope", "nobody")
	require.NoError(t, err)
	require.Nil(t, fetched)
}

func TestRepository_ListByBuyer(t *testing.T) {
	repo := NewRepository(setupEntitlementsTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		record := testRecord(enums.EntitlementStatusCompleted)
		record.VideoID = fmt.Sprintf("video-%d", i)
		_, err := repo.Upsert(ctx, record)
		require.NoError(t, err)
	}
	other := testRecord(enums.EntitlementStatusCompleted)
	other.VideoID = "video-x"
	other.BuyerWallet = "someone-else"
	_, err := repo.Upsert(ctx, other)
	require.NoError(t, err)

	records, err := repo.ListByBuyer(ctx, "buyer-wallet", 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, record := range records {
		require.Equal(t, "buyer-wallet", record.BuyerWallet)
	}

	capped, err := repo.ListByBuyer(ctx, "buyer-wallet", 2)
	require.NoError(t, err)
	require.Len(t, capped, 2)
}

func TestRepository_ListPending(t *testing.T) {
	repo := NewRepository(setupEntitlementsTestDB(t))
	ctx := context.Background()

	stale := testRecord(enums.EntitlementStatusPending)
	stale.VideoID = "video-stale"
	_, err := repo.Upsert(ctx, stale)
	require.NoError(t, err)

	done := testRecord(enums.EntitlementStatusCompleted)
	done.VideoID = "video-done"
	_, err = repo.Upsert(ctx, done)
	require.NoError(t, err)

	records, err := repo.ListPending(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "video-stale", records[0].VideoID)
	require.Equal(t, enums.EntitlementStatusPending, records[0].Status)

	none, err := repo.ListPending(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, none)
}
