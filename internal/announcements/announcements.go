// Package announcements serves exchange news items: public listing of
// active announcements, operator CRUD behind the internal token.
package announcements

import (
	"context"
	"errors"
	"time"

	"simcex/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const columns = "id, title, body, type, is_active, published_at, created_at, updated_at"

func scan(row pgx.Row) (model.Announcement, error) {
	var a model.Announcement
	err := row.Scan(&a.ID, &a.Title, &a.Body, &a.Type, &a.IsActive, &a.PublishedAt, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *Store) List(ctx context.Context, activeOnly bool) ([]model.Announcement, error) {
	rows, err := s.pool.Query(ctx, `
		select `+columns+` from announcements
		where not $1 or (is_active and (published_at is null or published_at <= now()))
		order by coalesce(published_at, created_at) desc
	`, activeOnly)
	if err != nil {
		return nil, &model.StorageError{Op: "list announcements", Err: err}
	}
	defer rows.Close()
	var out []model.Announcement
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, &model.StorageError{Op: "list announcements", Err: err}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, id int64) (model.Announcement, error) {
	a, err := scan(s.pool.QueryRow(ctx, "select "+columns+" from announcements where id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return a, &model.NotFoundError{Entity: "announcement", ID: ""}
	}
	if err != nil {
		return a, &model.StorageError{Op: "get announcement", Err: err}
	}
	return a, nil
}

func (s *Store) Create(ctx context.Context, a model.Announcement) (model.Announcement, error) {
	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx, `
		insert into announcements (title, body, type, is_active, published_at, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$6)
		returning id
	`, a.Title, a.Body, a.Type, a.IsActive, a.PublishedAt, now).Scan(&a.ID)
	if err != nil {
		return a, &model.StorageError{Op: "insert announcement", Err: err}
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	return a, nil
}

func (s *Store) Update(ctx context.Context, a model.Announcement) error {
	_, err := s.pool.Exec(ctx, `
		update announcements
		set title = $1, body = $2, type = $3, is_active = $4, published_at = $5, updated_at = $6
		where id = $7
	`, a.Title, a.Body, a.Type, a.IsActive, a.PublishedAt, time.Now().UTC(), a.ID)
	if err != nil {
		return &model.StorageError{Op: "update announcement", Err: err}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, "delete from announcements where id = $1", id)
	if err != nil {
		return &model.StorageError{Op: "delete announcement", Err: err}
	}
	return nil
}
