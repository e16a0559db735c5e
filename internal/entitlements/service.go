package entitlements

import (
	"context"
	"fmt"
	"strings"

	"github.com/clipmint/clipmint-backend/pkg/db/models"
	"github.com/clipmint/clipmint-backend/pkg/enums"
	pkgerrors "github.com/clipmint/clipmint-backend/pkg/errors"
)

// Service exposes the read side of entitlements: access checks and purchase
// history. Writes happen through the settlement flow, never here.
type Service interface {
	Status(ctx context.Context, videoID, buyerWallet string) (*AccessStatus, error)
	ListPurchases(ctx context.Context, buyerWallet string, limit int) ([]models.Entitlement, error)
}

// AccessStatus answers "may this wallet watch this video" alongside the
// underlying record when one exists.
type AccessStatus struct {
	HasPurchased bool                `json:"has_purchased"`
	Record       *models.Entitlement `json:"record,omitempty"`
}

type service struct {
	repo Repository
}

// NewService wires an entitlement service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("entitlement repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Status(ctx context.Context, videoID, buyerWallet string) (*AccessStatus, error) {
	videoID = strings.TrimSpace(videoID)
	buyerWallet = strings.TrimSpace(buyerWallet)
	if videoID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "video id is required")
	}
	if buyerWallet == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer wallet is required")
	}

	record, err := s.repo.GetByVideoAndBuyer(ctx, videoID, buyerWallet)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return &AccessStatus{}, nil
	}
	return &AccessStatus{
		HasPurchased: record.Status == enums.EntitlementStatusCompleted,
		Record:       record,
	}, nil
}

func (s *service) ListPurchases(ctx context.Context, buyerWallet string, limit int) ([]models.Entitlement, error) {
	buyerWallet = strings.TrimSpace(buyerWallet)
	if buyerWallet == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer wallet is required")
	}
	return s.repo.ListByBuyer(ctx, buyerWallet, limit)
}
