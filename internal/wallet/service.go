// Package wallet simulates the deposit and withdrawal flow: requests go
// pending, an operator approves and completes them, and settlement moves
// through the fund ledger. Transaction hashes are fabricated since no real
// chain is involved.
package wallet

import (
	"context"
	"strings"
	"time"

	"simcex/internal/funds"
	"simcex/internal/model"
	"simcex/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Storage is the persistence surface the service needs; satisfied by Store.
type Storage interface {
	Create(ctx context.Context, tx model.WalletTransaction) (model.WalletTransaction, error)
	Get(ctx context.Context, transactionID string) (model.WalletTransaction, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]model.WalletTransaction, error)
	Update(ctx context.Context, tx model.WalletTransaction) error
}

type Service struct {
	store Storage
	funds *funds.Service
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store Storage, fundsSvc *funds.Service, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store: store,
		funds: fundsSvc,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RequestDeposit opens a pending deposit and hands the user a simulated
// deposit address. Funds land only when the operator completes it.
func (s *Service) RequestDeposit(ctx context.Context, userID, currency, network string, amount decimal.Decimal) (model.WalletTransaction, error) {
	if !amount.IsPositive() {
		return model.WalletTransaction{}, &model.InvalidQuantityError{Reason: "deposit amount must be positive"}
	}
	return s.store.Create(ctx, model.WalletTransaction{
		TransactionID: uuid.NewString(),
		UserID:        userID,
		Type:          types.WalletTxTypeDeposit,
		Currency:      currency,
		Amount:        amount,
		FeeAmount:     decimal.Zero,
		Status:        types.WalletTxStatusPending,
		WalletAddress: fakeAddress(currency),
		Network:       network,
	})
}

// RequestWithdrawal debits available funds up front, so the amount can never
// be double-spent while the request sits pending. Cancelling refunds it.
func (s *Service) RequestWithdrawal(ctx context.Context, userID, currency, address, network string, amount decimal.Decimal) (model.WalletTransaction, error) {
	if !amount.IsPositive() {
		return model.WalletTransaction{}, &model.InvalidQuantityError{Reason: "withdrawal amount must be positive"}
	}
	if address == "" {
		return model.WalletTransaction{}, &model.InvalidQuantityError{Reason: "withdrawal address required"}
	}
	var tx model.WalletTransaction
	err := s.funds.WithUserLock(userID, func() error {
		if err := s.funds.DebitChecked(ctx, userID, currency, amount); err != nil {
			return err
		}
		var err error
		tx, err = s.store.Create(ctx, model.WalletTransaction{
			TransactionID: uuid.NewString(),
			UserID:        userID,
			Type:          types.WalletTxTypeWithdrawal,
			Currency:      currency,
			Amount:        amount,
			FeeAmount:     decimal.Zero,
			Status:        types.WalletTxStatusPending,
			WalletAddress: address,
			Network:       network,
		})
		return err
	})
	if err != nil {
		return model.WalletTransaction{}, err
	}
	s.log.Info("withdrawal requested",
		zap.String("transaction_id", tx.TransactionID),
		zap.String("user_id", userID),
		zap.String("amount", amount.String()+" "+currency))
	return tx, nil
}

// Approve moves a pending withdrawal to approved. Deposits skip this step.
func (s *Service) Approve(ctx context.Context, transactionID string) (model.WalletTransaction, error) {
	tx, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return model.WalletTransaction{}, err
	}
	if tx.Type != types.WalletTxTypeWithdrawal || tx.Status != types.WalletTxStatusPending {
		return model.WalletTransaction{}, &model.InvalidStateError{Status: string(tx.Status), Operation: "approve withdrawal"}
	}
	now := s.now()
	tx.Status = types.WalletTxStatusApproved
	tx.ApprovedAt = &now
	if err := s.store.Update(ctx, tx); err != nil {
		return model.WalletTransaction{}, err
	}
	return tx, nil
}

// Complete finishes the transaction: deposits credit the user's balance,
// withdrawals were already debited at request time. Both get a fake hash.
// The status re-check and the credit run under the user lock so a concurrent
// complete and cancel cannot both settle the same transaction.
func (s *Service) Complete(ctx context.Context, transactionID string) (model.WalletTransaction, error) {
	tx, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return model.WalletTransaction{}, err
	}
	err = s.funds.WithUserLock(tx.UserID, func() error {
		tx, err = s.store.Get(ctx, transactionID)
		if err != nil {
			return err
		}
		switch {
		case tx.Type == types.WalletTxTypeDeposit && tx.Status == types.WalletTxStatusPending:
			if err := s.funds.Credit(ctx, tx.UserID, tx.Currency, tx.Amount); err != nil {
				return err
			}
		case tx.Type == types.WalletTxTypeWithdrawal && tx.Status == types.WalletTxStatusApproved:
		default:
			return &model.InvalidStateError{Status: string(tx.Status), Operation: "complete transaction"}
		}
		now := s.now()
		tx.Status = types.WalletTxStatusCompleted
		tx.TransactionHash = fakeHash()
		tx.CompletedAt = &now
		return s.store.Update(ctx, tx)
	})
	if err != nil {
		return model.WalletTransaction{}, err
	}
	s.log.Info("wallet transaction completed",
		zap.String("transaction_id", tx.TransactionID),
		zap.String("type", string(tx.Type)),
		zap.String("amount", tx.Amount.String()+" "+tx.Currency))
	return tx, nil
}

// Cancel voids a transaction that has not completed. A cancelled withdrawal
// refunds the debited amount, so the status re-check and the refund run
// under the user lock.
func (s *Service) Cancel(ctx context.Context, transactionID, reason string) (model.WalletTransaction, error) {
	tx, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return model.WalletTransaction{}, err
	}
	err = s.funds.WithUserLock(tx.UserID, func() error {
		tx, err = s.store.Get(ctx, transactionID)
		if err != nil {
			return err
		}
		if tx.Status == types.WalletTxStatusCompleted || tx.Status == types.WalletTxStatusCancelled {
			return &model.InvalidStateError{Status: string(tx.Status), Operation: "cancel transaction"}
		}
		if tx.Type == types.WalletTxTypeWithdrawal {
			if err := s.funds.Credit(ctx, tx.UserID, tx.Currency, tx.Amount); err != nil {
				return err
			}
		}
		now := s.now()
		tx.Status = types.WalletTxStatusCancelled
		tx.CancelReason = reason
		tx.CancelledAt = &now
		return s.store.Update(ctx, tx)
	})
	if err != nil {
		return model.WalletTransaction{}, err
	}
	return tx, nil
}

func (s *Service) Get(ctx context.Context, transactionID, userID string) (model.WalletTransaction, error) {
	tx, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return model.WalletTransaction{}, err
	}
	if userID != "" && tx.UserID != userID {
		return model.WalletTransaction{}, &model.NotFoundError{Entity: "wallet transaction", ID: transactionID}
	}
	return tx, nil
}

func (s *Service) History(ctx context.Context, userID string, limit int) ([]model.WalletTransaction, error) {
	return s.store.ListByUser(ctx, userID, limit)
}

func fakeAddress(currency string) string {
	return "sim-" + strings.ToLower(currency) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func fakeHash() string {
	return "0x" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
