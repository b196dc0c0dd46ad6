package promos

import (
	"context"
	"strconv"
	"time"

	"simcex/internal/funds"
	"simcex/internal/model"
	"simcex/internal/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Storage is the persistence surface the service needs; satisfied by Store.
type Storage interface {
	Create(ctx context.Context, p model.Promo) (model.Promo, error)
	Get(ctx context.Context, id int64) (model.Promo, error)
	ListByUser(ctx context.Context, userID string) ([]model.Promo, error)
	Update(ctx context.Context, p model.Promo) error
}

// Service manages promotional credits. A promo holds an amount the user can
// redeem into their funds, possibly in several partial redemptions.
type Service struct {
	store Storage
	funds *funds.Service
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store Storage, fundsSvc *funds.Service, log *zap.Logger) *Service {
	return &Service{
		store: store,
		funds: fundsSvc,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type CreateInput struct {
	UserID    string
	Currency  string
	Amount    decimal.Decimal
	Note      string
	ExpiresAt *time.Time
}

func (s *Service) Create(ctx context.Context, in CreateInput) (model.Promo, error) {
	if !in.Amount.IsPositive() {
		return model.Promo{}, &model.InvalidQuantityError{Reason: "promo amount must be positive"}
	}
	p := model.Promo{
		UserID:          in.UserID,
		Currency:        in.Currency,
		Amount:          in.Amount,
		RedeemedAmount:  decimal.Zero,
		RemainingAmount: in.Amount,
		Status:          types.PromoStatusPending,
		Note:            in.Note,
		ExpiresAt:       in.ExpiresAt,
	}
	return s.store.Create(ctx, p)
}

// Activate moves a pending promo to active, opening it for redemption.
func (s *Service) Activate(ctx context.Context, userID string, id int64) (model.Promo, error) {
	p, err := s.owned(ctx, userID, id)
	if err != nil {
		return p, err
	}
	if p.Status != types.PromoStatusPending {
		return p, &model.InvalidStateError{Status: string(p.Status), Operation: "activate"}
	}
	if s.expired(p) {
		return s.markExpired(ctx, p)
	}
	now := s.now()
	p.Status = types.PromoStatusActive
	p.ActivatedAt = &now
	if err := s.store.Update(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

// Redeem credits part of an active promo into the user's funds. A zero amount
// redeems the full remainder. The promo flips to redeemed once exhausted.
// The remaining-amount check and the credit run under the user lock so
// concurrent redeems cannot both pass the check.
func (s *Service) Redeem(ctx context.Context, userID string, id int64, amount decimal.Decimal) (model.Promo, error) {
	var out model.Promo
	err := s.funds.WithUserLock(userID, func() error {
		p, err := s.owned(ctx, userID, id)
		if err != nil {
			return err
		}
		out = p
		if p.Status != types.PromoStatusActive {
			return &model.InvalidStateError{Status: string(p.Status), Operation: "redeem"}
		}
		if s.expired(p) {
			out, err = s.markExpired(ctx, p)
			return err
		}
		if amount.IsZero() {
			amount = p.RemainingAmount
		}
		if !amount.IsPositive() {
			return &model.InvalidQuantityError{Reason: "redeem amount must be positive"}
		}
		if amount.GreaterThan(p.RemainingAmount) {
			return &model.InvalidQuantityError{Reason: "redeem amount exceeds remaining promo balance"}
		}

		if err := s.funds.Credit(ctx, userID, p.Currency, amount); err != nil {
			return err
		}
		p.RedeemedAmount = p.RedeemedAmount.Add(amount)
		p.RemainingAmount = p.RemainingAmount.Sub(amount)
		if p.RemainingAmount.IsZero() {
			now := s.now()
			p.Status = types.PromoStatusRedeemed
			p.RedeemedAt = &now
		}
		if err := s.store.Update(ctx, p); err != nil {
			return err
		}
		s.log.Info("promo redeemed",
			zap.Int64("promo_id", p.ID),
			zap.String("user_id", userID),
			zap.String("currency", p.Currency),
			zap.String("amount", amount.String()),
			zap.String("remaining", p.RemainingAmount.String()))
		out = p
		return nil
	})
	return out, err
}

// Cancel voids a promo that has not been fully redeemed. Already-redeemed
// funds stay with the user.
func (s *Service) Cancel(ctx context.Context, id int64, note string) (model.Promo, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return p, err
	}
	if p.Status == types.PromoStatusRedeemed || p.Status == types.PromoStatusCancelled {
		return p, &model.InvalidStateError{Status: string(p.Status), Operation: "cancel"}
	}
	p.Status = types.PromoStatusCancelled
	if note != "" {
		p.Note = note
	}
	if err := s.store.Update(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, userID string, id int64) (model.Promo, error) {
	return s.owned(ctx, userID, id)
}

func (s *Service) List(ctx context.Context, userID string) ([]model.Promo, error) {
	return s.store.ListByUser(ctx, userID)
}

func (s *Service) owned(ctx context.Context, userID string, id int64) (model.Promo, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return p, err
	}
	if p.UserID != userID {
		return p, &model.NotFoundError{Entity: "promo", ID: strconv.FormatInt(id, 10)}
	}
	return p, nil
}

func (s *Service) expired(p model.Promo) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(s.now())
}

func (s *Service) markExpired(ctx context.Context, p model.Promo) (model.Promo, error) {
	p.Status = types.PromoStatusExpired
	if err := s.store.Update(ctx, p); err != nil {
		return p, err
	}
	return p, &model.InvalidStateError{Status: string(types.PromoStatusExpired), Operation: "redeem"}
}
