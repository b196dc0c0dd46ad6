package promos

import (
	"context"
	"sync"
	"testing"
	"time"

	"simcex/internal/funds"
	"simcex/internal/model"
	"simcex/internal/store"
	"simcex/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu     sync.Mutex
	nextID int64
	promos map[int64]model.Promo
}

func newMemStore() *memStore {
	return &memStore{promos: make(map[int64]model.Promo)}
}

func (m *memStore) Create(_ context.Context, p model.Promo) (model.Promo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	p.CreatedAt = time.Now().UTC()
	m.promos[p.ID] = p
	return p, nil
}

func (m *memStore) Get(_ context.Context, id int64) (model.Promo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.promos[id]
	if !ok {
		return model.Promo{}, &model.NotFoundError{Entity: "promo", ID: "?"}
	}
	return p, nil
}

func (m *memStore) ListByUser(_ context.Context, userID string) ([]model.Promo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Promo
	for _, p := range m.promos {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) Update(_ context.Context, p model.Promo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promos[p.ID] = p
	return nil
}

type stablePrices struct{}

func (stablePrices) QuoteUSD(_ context.Context, currency string) (decimal.Decimal, bool) {
	return decimal.NewFromInt(1), true
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestService(t *testing.T) (*Service, *funds.Service) {
	t.Helper()
	fundsSvc := funds.NewService(store.NewMemory(), stablePrices{}, zap.NewNop())
	return NewService(newMemStore(), fundsSvc, zap.NewNop()), fundsSvc
}

func activePromo(t *testing.T, svc *Service, userID, amount string) model.Promo {
	t.Helper()
	ctx := context.Background()
	p, err := svc.Create(ctx, CreateInput{UserID: userID, Currency: "USDT", Amount: dec(amount)})
	require.NoError(t, err)
	p, err = svc.Activate(ctx, userID, p.ID)
	require.NoError(t, err)
	return p
}

func TestRedeemPartialThenExhaust(t *testing.T) {
	svc, fundsSvc := newTestService(t)
	ctx := context.Background()
	p := activePromo(t, svc, "u1", "100")

	p, err := svc.Redeem(ctx, "u1", p.ID, dec("40"))
	require.NoError(t, err)
	assert.Equal(t, types.PromoStatusActive, p.Status)
	assert.True(t, p.RemainingAmount.Equal(dec("60")))

	p, err = svc.Redeem(ctx, "u1", p.ID, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, types.PromoStatusRedeemed, p.Status)
	assert.True(t, p.RemainingAmount.IsZero())
	require.NotNil(t, p.RedeemedAt)

	bal, err := fundsSvc.Balance(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("100")))

	_, err = svc.Redeem(ctx, "u1", p.ID, dec("1"))
	assert.ErrorAs(t, err, new(*model.InvalidStateError))
}

func TestRedeemRefusesExpired(t *testing.T) {
	svc, fundsSvc := newTestService(t)
	ctx := context.Background()
	p := activePromo(t, svc, "u1", "50")
	past := time.Now().UTC().Add(-time.Hour)
	svc.now = func() time.Time { return past.Add(2 * time.Hour) }
	got, err := svc.Get(ctx, "u1", p.ID)
	require.NoError(t, err)
	got.ExpiresAt = &past
	require.NoError(t, svc.store.Update(ctx, got))

	out, err := svc.Redeem(ctx, "u1", p.ID, decimal.Zero)
	assert.ErrorAs(t, err, new(*model.InvalidStateError))
	assert.Equal(t, types.PromoStatusExpired, out.Status)

	bal, err := fundsSvc.Balance(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestConcurrentRedeemsCreditOnce(t *testing.T) {
	svc, fundsSvc := newTestService(t)
	ctx := context.Background()
	p := activePromo(t, svc, "u1", "100")

	const workers = 10
	successes := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Redeem(ctx, "u1", p.ID, dec("100")); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	assert.Equal(t, 1, len(successes))
	bal, err := fundsSvc.Balance(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("100")), "balance = %s", bal)
}
