package promos

import (
	"context"
	"errors"
	"strconv"
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

const columns = "id, user_id, currency, amount, redeemed_amount, remaining_amount, status, note, activated_at, expires_at, redeemed_at, created_at"

func scan(row pgx.Row) (model.Promo, error) {
	var p model.Promo
	var status string
	var note *string
	err := row.Scan(&p.ID, &p.UserID, &p.Currency, &p.Amount, &p.RedeemedAmount, &p.RemainingAmount,
		&status, &note, &p.ActivatedAt, &p.ExpiresAt, &p.RedeemedAt, &p.CreatedAt)
	if err != nil {
		return p, err
	}
	p.Status = types.PromoStatus(status)
	if note != nil {
		p.Note = *note
	}
	return p, nil
}

func (s *Store) Create(ctx context.Context, p model.Promo) (model.Promo, error) {
	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx, `
		insert into promos (user_id, currency, amount, redeemed_amount, remaining_amount, status, note, expires_at, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		returning id
	`, p.UserID, p.Currency, p.Amount, p.RedeemedAmount, p.RemainingAmount, string(p.Status), nilIfEmpty(p.Note), p.ExpiresAt, now).Scan(&p.ID)
	if err != nil {
		return p, &model.StorageError{Op: "insert promo", Err: err}
	}
	p.CreatedAt = now
	return p, nil
}

func (s *Store) Get(ctx context.Context, id int64) (model.Promo, error) {
	p, err := scan(s.pool.QueryRow(ctx, "select "+columns+" from promos where id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return p, &model.NotFoundError{Entity: "promo", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return p, &model.StorageError{Op: "get promo", Err: err}
	}
	return p, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]model.Promo, error) {
	rows, err := s.pool.Query(ctx, "select "+columns+" from promos where user_id = $1 order by created_at desc", userID)
	if err != nil {
		return nil, &model.StorageError{Op: "list promos", Err: err}
	}
	defer rows.Close()
	var out []model.Promo
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, &model.StorageError{Op: "list promos", Err: err}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, p model.Promo) error {
	_, err := s.pool.Exec(ctx, `
		update promos
		set redeemed_amount = $1, remaining_amount = $2, status = $3, note = $4,
			activated_at = $5, redeemed_at = $6
		where id = $7
	`, p.RedeemedAmount, p.RemainingAmount, string(p.Status), nilIfEmpty(p.Note), p.ActivatedAt, p.RedeemedAt, p.ID)
	if err != nil {
		return &model.StorageError{Op: "update promo", Err: err}
	}
	return nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
