package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/clipmint/clipmint-backend/api/responses"
	"github.com/clipmint/clipmint-backend/api/validators"
	"github.com/clipmint/clipmint-backend/internal/settlement"
	"github.com/clipmint/clipmint-backend/pkg/db/models"
	pkgerrors "github.com/clipmint/clipmint-backend/pkg/errors"
	"github.com/clipmint/clipmint-backend/pkg/logger"
)

// SettlementService is the settlement surface the payments controller needs.
type SettlementService interface {
	Settle(ctx context.Context, intent settlement.Intent) (*settlement.Result, error)
}

// SettlePayment settles a video purchase. With transaction_signature set the
// request references a transfer the buyer's wallet already submitted; without
// it the platform credential pays (custodial mode).
func SettlePayment(svc SettlementService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		var payload settlePaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Settle(r.Context(), settlement.Intent{
			VideoID:              payload.VideoID,
			BuyerWallet:          payload.BuyerWallet,
			CreatorWallet:        payload.CreatorWallet,
			GrossLamports:        payload.AmountLamports,
			TransactionSignature: payload.TransactionSignature,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.AlreadySettled {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, settlePaymentResponse{
			Entitlement:    newEntitlementResponse(result.Entitlement),
			AlreadySettled: result.AlreadySettled,
		})
	}
}

type settlePaymentRequest struct {
	VideoID              string `json:"video_id" validate:"required"`
	BuyerWallet          string `json:"buyer_wallet" validate:"required"`
	CreatorWallet        string `json:"creator_wallet" validate:"required"`
	AmountLamports       int64  `json:"amount_lamports" validate:"required,gt=0"`
	TransactionSignature string `json:"transaction_signature,omitempty"`
}

type settlePaymentResponse struct {
	Entitlement    entitlementResponse `json:"entitlement"`
	AlreadySettled bool                `json:"already_settled"`
}

type entitlementResponse struct {
	ID                   string     `json:"id"`
	VideoID              string     `json:"video_id"`
	BuyerWallet          string     `json:"buyer_wallet"`
	CreatorWallet        string     `json:"creator_wallet"`
	AmountPaid           int64      `json:"amount_paid"`
	PlatformFee          int64      `json:"platform_fee"`
	CreatorPayout        int64      `json:"creator_payout"`
	TransactionSignature string     `json:"transaction_signature,omitempty"`
	Flow                 string     `json:"flow"`
	Status               string     `json:"status"`
	FailureReason        *string    `json:"failure_reason,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

func newEntitlementResponse(record *models.Entitlement) entitlementResponse {
	if record == nil {
		return entitlementResponse{}
	}
	return entitlementResponse{
		ID:                   record.ID.String(),
		VideoID:              record.VideoID,
		BuyerWallet:          record.BuyerWallet,
		CreatorWallet:        record.CreatorWallet,
		AmountPaid:           record.AmountPaid,
		PlatformFee:          record.PlatformFee,
		CreatorPayout:        record.CreatorPayout,
		TransactionSignature: record.TransactionSignature,
		Flow:                 string(record.Flow),
		Status:               string(record.Status),
		FailureReason:        record.FailureReason,
		CreatedAt:            record.CreatedAt,
		CompletedAt:          record.CompletedAt,
	}
}
