package controllers

import (
	"net/http"

	"github.com/clipmint/clipmint-backend/api/responses"
	"github.com/clipmint/clipmint-backend/api/validators"
	"github.com/clipmint/clipmint-backend/internal/entitlements"
	pkgerrors "github.com/clipmint/clipmint-backend/pkg/errors"
	"github.com/clipmint/clipmint-backend/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// EntitlementStatus answers whether a wallet may watch a video.
func EntitlementStatus(svc entitlements.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "entitlement service unavailable"))
			return
		}

		videoID, err := validators.RequireQuery(r, "video_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		wallet, err := validators.RequireQuery(r, "wallet")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := svc.Status(r.Context(), videoID, wallet)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payload := entitlementStatusResponse{HasPurchased: status.HasPurchased}
		if status.Record != nil {
			record := newEntitlementResponse(status.Record)
			payload.Record = &record
		}
		responses.WriteSuccess(w, payload)
	}
}

// EntitlementList returns a wallet's purchase history, newest first.
func EntitlementList(svc entitlements.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "entitlement service unavailable"))
			return
		}

		wallet, err := validators.RequireQuery(r, "wallet")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultListLimit, 1, maxListLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		records, err := svc.ListPurchases(r.Context(), wallet, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]entitlementResponse, 0, len(records))
		for i := range records {
			out = append(out, newEntitlementResponse(&records[i]))
		}
		responses.WriteSuccess(w, entitlementListResponse{Entitlements: out})
	}
}

type entitlementStatusResponse struct {
	HasPurchased bool                 `json:"has_purchased"`
	Record       *entitlementResponse `json:"record,omitempty"`
}

type entitlementListResponse struct {
	Entitlements []entitlementResponse `json:"entitlements"`
}
