package wallet

import (
	"context"
	"errors"
	"time"

	"simcex/internal/model"
	"simcex/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const txColumns = "id, transaction_id, user_id, type, currency, amount, fee_amount, status, wallet_address, transaction_hash, network, cancel_reason, requested_at, approved_at, completed_at, cancelled_at"

func scanTx(row pgx.Row) (model.WalletTransaction, error) {
	var tx model.WalletTransaction
	var typ, status string
	var address, hash, network, reason *string
	err := row.Scan(&tx.ID, &tx.TransactionID, &tx.UserID, &typ, &tx.Currency, &tx.Amount, &tx.FeeAmount,
		&status, &address, &hash, &network, &reason, &tx.RequestedAt, &tx.ApprovedAt, &tx.CompletedAt, &tx.CancelledAt)
	if err != nil {
		return tx, err
	}
	tx.Type = types.WalletTxType(typ)
	tx.Status = types.WalletTxStatus(status)
	if address != nil {
		tx.WalletAddress = *address
	}
	if hash != nil {
		tx.TransactionHash = *hash
	}
	if network != nil {
		tx.Network = *network
	}
	if reason != nil {
		tx.CancelReason = *reason
	}
	return tx, nil
}

func (s *Store) Create(ctx context.Context, tx model.WalletTransaction) (model.WalletTransaction, error) {
	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx, `
		insert into wallet_transactions (transaction_id, user_id, type, currency, amount, fee_amount,
			status, wallet_address, network, requested_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		returning id
	`, tx.TransactionID, tx.UserID, string(tx.Type), tx.Currency, tx.Amount, tx.FeeAmount,
		string(tx.Status), nilIfEmpty(tx.WalletAddress), nilIfEmpty(tx.Network), now).Scan(&tx.ID)
	if err != nil {
		return tx, &model.StorageError{Op: "insert wallet transaction", Err: err}
	}
	tx.RequestedAt = now
	return tx, nil
}

func (s *Store) Get(ctx context.Context, transactionID string) (model.WalletTransaction, error) {
	tx, err := scanTx(s.pool.QueryRow(ctx, "select "+txColumns+" from wallet_transactions where transaction_id = $1", transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return tx, &model.NotFoundError{Entity: "wallet transaction", ID: transactionID}
	}
	if err != nil {
		return tx, &model.StorageError{Op: "get wallet transaction", Err: err}
	}
	return tx, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]model.WalletTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		select `+txColumns+` from wallet_transactions
		where user_id = $1
		order by requested_at desc
		limit $2
	`, userID, limit)
	if err != nil {
		return nil, &model.StorageError{Op: "list wallet transactions", Err: err}
	}
	defer rows.Close()
	var out []model.WalletTransaction
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, &model.StorageError{Op: "list wallet transactions", Err: err}
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, tx model.WalletTransaction) error {
	_, err := s.pool.Exec(ctx, `
		update wallet_transactions
		set status = $1, transaction_hash = $2, cancel_reason = $3,
			approved_at = $4, completed_at = $5, cancelled_at = $6
		where transaction_id = $7
	`, string(tx.Status), nilIfEmpty(tx.TransactionHash), nilIfEmpty(tx.CancelReason),
		tx.ApprovedAt, tx.CompletedAt, tx.CancelledAt, tx.TransactionID)
	if err != nil {
		return &model.StorageError{Op: "update wallet transaction", Err: err}
	}
	return nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
