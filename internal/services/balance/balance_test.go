package balance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) ApplyEntry(ctx context.Context, entry *models.Transaction, opts models.ApplyOptions) (int, error) {
	args := m.Called(ctx, entry, opts)
	return args.Int(0), args.Error(1)
}
func (m *RepoMock) ApplyBillingCycle(ctx context.Context, params models.CycleParams) (*models.CycleResult, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CycleResult), args.Error(1)
}
func (m *RepoMock) GetAccount(ctx context.Context, userUID string) (*models.CreditAccount, error) {
	args := m.Called(ctx, userUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CreditAccount), args.Error(1)
}
func (m *RepoMock) GetSubscriptionSummary(ctx context.Context, userUID string) (*models.SubscriptionSummary, error) {
	args := m.Called(ctx, userUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubscriptionSummary), args.Error(1)
}
func (m *RepoMock) GetPackage(ctx context.Context, id int) (*models.Package, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Package), args.Error(1)
}
func (m *RepoMock) ListEntries(ctx context.Context, userUID string, limit, offset int, filter models.EntryFilter) ([]*models.Transaction, int, error) {
	args := m.Called(ctx, userUID, limit, offset, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*models.Transaction), args.Int(1), args.Error(2)
}
func (m *RepoMock) SumEntries(ctx context.Context, userUID string) (int, error) {
	args := m.Called(ctx, userUID)
	return args.Int(0), args.Error(1)
}
func (m *RepoMock) MonthlyTotals(ctx context.Context, userUID string, since time.Time) (int, int, int, error) {
	args := m.Called(ctx, userUID, since)
	return args.Int(0), args.Int(1), args.Int(2), args.Error(3)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Get(key string, result any) (bool, error) {
	args := m.Called(key, result)
	return args.Bool(0), args.Error(1)
}
func (m *CacheMock) Set(key string, value any, expiration time.Duration) error {
	return m.Called(key, value, expiration).Error(0)
}
func (m *CacheMock) Invalidate(key string) error {
	return m.Called(key).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestEngine_Debit(t *testing.T) {
	tests := []struct {
		name        string
		amount      int
		kind        string
		setupMocks  func(r *RepoMock, c *CacheMock)
		wantBalance int
		wantErr     error
	}{
		{
			name:   "service debit records negative entry and enforces active",
			amount: 120,
			kind:   models.KindService,
			setupMocks: func(r *RepoMock, c *CacheMock) {
				r.On("ApplyEntry", mock.Anything, mock.MatchedBy(func(e *models.Transaction) bool {
					return e.UserUID == "user1" && e.Amount == -120 && e.Kind == models.KindService && e.ID != ""
				}), models.ApplyOptions{EnforceActive: true}).Return(380, nil).Once()
				c.On("Invalidate", "balance:user1").Return(nil).Once()
			},
			wantBalance: 380,
		},
		{
			name:    "zero amount rejected",
			amount:  0,
			kind:    models.KindService,
			wantErr: models.ErrInvalidAmount,
		},
		{
			name:    "negative amount rejected",
			amount:  -50,
			kind:    models.KindAdmin,
			wantErr: models.ErrInvalidAmount,
		},
		{
			name:   "admin debit may go negative when allowed",
			amount: 500,
			kind:   models.KindAdmin,
			setupMocks: func(r *RepoMock, c *CacheMock) {
				r.On("ApplyEntry", mock.Anything, mock.Anything,
					models.ApplyOptions{AllowNegative: true}).Return(-100, nil).Once()
				c.On("Invalidate", "balance:user1").Return(nil).Once()
			},
			wantBalance: -100,
		},
		{
			name:   "insufficient credits propagated",
			amount: 9999,
			kind:   models.KindService,
			setupMocks: func(r *RepoMock, c *CacheMock) {
				r.On("ApplyEntry", mock.Anything, mock.Anything,
					models.ApplyOptions{EnforceActive: true}).Return(0, models.ErrInsufficientCredits).Once()
			},
			wantErr: models.ErrInsufficientCredits,
		},
		{
			name:   "cache invalidate failure does not fail the debit",
			amount: 10,
			kind:   models.KindService,
			setupMocks: func(r *RepoMock, c *CacheMock) {
				r.On("ApplyEntry", mock.Anything, mock.Anything,
					models.ApplyOptions{EnforceActive: true}).Return(90, nil).Once()
				c.On("Invalidate", "balance:user1").Return(errors.New("redis down")).Once()
			},
			wantBalance: 90,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(RepoMock)
			cache := new(CacheMock)
			eng := New(repo, cache, newNoopLogger(), true, 10)

			if tt.setupMocks != nil {
				tt.setupMocks(repo, cache)
			}

			_, balance, err := eng.Debit(context.Background(), "user1", tt.amount, tt.kind, "test", models.EntryRefs{})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.wantBalance, balance)
			}

			repo.AssertExpectations(t)
			cache.AssertExpectations(t)
		})
	}
}

func TestEngine_Debit_AdminNegativeDisabled(t *testing.T) {
	repo := new(RepoMock)
	cache := new(CacheMock)
	eng := New(repo, cache, newNoopLogger(), false, 10)

	repo.On("ApplyEntry", mock.Anything, mock.Anything,
		models.ApplyOptions{}).Return(0, models.ErrInsufficientCredits).Once()

	_, _, err := eng.Debit(context.Background(), "user1", 500, models.KindAdmin, "correction", models.EntryRefs{})
	assert.ErrorIs(t, err, models.ErrInsufficientCredits)
	repo.AssertExpectations(t)
}

func TestEngine_Credit(t *testing.T) {
	ref := "pay_abc123"

	tests := []struct {
		name        string
		amount      int
		refs        models.EntryRefs
		setupMocks  func(r *RepoMock, c *CacheMock)
		wantBalance int
		wantErr     error
	}{
		{
			name:   "purchase credit with payment ref",
			amount: 500,
			refs:   models.EntryRefs{ExternalPaymentRef: &ref},
			setupMocks: func(r *RepoMock, c *CacheMock) {
				r.On("ApplyEntry", mock.Anything, mock.MatchedBy(func(e *models.Transaction) bool {
					return e.Amount == 500 && e.ExternalPaymentRef != nil && *e.ExternalPaymentRef == ref
				}), models.ApplyOptions{}).Return(500, nil).Once()
				c.On("Invalidate", "balance:user1").Return(nil).Once()
			},
			wantBalance: 500,
		},
		{
			name:   "duplicate payment ref propagated",
			amount: 500,
			refs:   models.EntryRefs{ExternalPaymentRef: &ref},
			setupMocks: func(r *RepoMock, c *CacheMock) {
				r.On("ApplyEntry", mock.Anything, mock.Anything, models.ApplyOptions{}).
					Return(0, models.ErrDuplicatePayment).Once()
			},
			wantErr: models.ErrDuplicatePayment,
		},
		{
			name:    "zero amount rejected",
			amount:  0,
			wantErr: models.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(RepoMock)
			cache := new(CacheMock)
			eng := New(repo, cache, newNoopLogger(), false, 10)

			if tt.setupMocks != nil {
				tt.setupMocks(repo, cache)
			}

			_, balance, err := eng.Credit(context.Background(), "user1", tt.amount, models.KindPurchase, "purchase", tt.refs)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.wantBalance, balance)
			}

			repo.AssertExpectations(t)
			cache.AssertExpectations(t)
		})
	}
}

func TestEngine_GetBalance(t *testing.T) {
	next := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	acc := &models.CreditAccount{UserUID: "user1", Balance: 420, Status: models.AccountActive, NextBillingDate: &next}
	sub := &models.SubscriptionSummary{ID: 7, PackageID: 2, PackageName: "Pro", Status: models.SubscriptionActive}

	tests := []struct {
		name       string
		setupMocks func(r *RepoMock, c *CacheMock)
		want       *models.BalanceInfo
		wantErr    bool
	}{
		{
			name: "cache miss then repo",
			setupMocks: func(r *RepoMock, c *CacheMock) {
				c.On("Get", "balance:user1", mock.Anything).Return(false, nil).Once()
				r.On("GetAccount", mock.Anything, "user1").Return(acc, nil).Once()
				r.On("GetSubscriptionSummary", mock.Anything, "user1").Return(sub, nil).Once()
				c.On("Set", "balance:user1", mock.Anything, 5*time.Minute).Return(nil).Once()
			},
			want: &models.BalanceInfo{
				UserUID: "user1", Balance: 420, Status: models.AccountActive,
				Subscription: sub, NextBillingDate: &next,
			},
		},
		{
			name: "cache hit skips repo",
			setupMocks: func(r *RepoMock, c *CacheMock) {
				c.On("Get", "balance:user1", mock.Anything).Return(true, nil).Run(func(args mock.Arguments) {
					ptr := args.Get(1).(*models.BalanceInfo)
					*ptr = models.BalanceInfo{UserUID: "user1", Balance: 420, Status: models.AccountActive, Subscription: sub, NextBillingDate: &next}
				}).Once()
			},
			want: &models.BalanceInfo{
				UserUID: "user1", Balance: 420, Status: models.AccountActive,
				Subscription: sub, NextBillingDate: &next,
			},
		},
		{
			name: "cache error falls through to repo",
			setupMocks: func(r *RepoMock, c *CacheMock) {
				c.On("Get", "balance:user1", mock.Anything).Return(false, errors.New("redis down")).Once()
				r.On("GetAccount", mock.Anything, "user1").Return(acc, nil).Once()
				r.On("GetSubscriptionSummary", mock.Anything, "user1").Return(nil, nil).Once()
				c.On("Set", "balance:user1", mock.Anything, 5*time.Minute).Return(nil).Once()
			},
			want: &models.BalanceInfo{
				UserUID: "user1", Balance: 420, Status: models.AccountActive,
				NextBillingDate: &next,
			},
		},
		{
			name: "account not found",
			setupMocks: func(r *RepoMock, c *CacheMock) {
				c.On("Get", "balance:user1", mock.Anything).Return(false, nil).Once()
				r.On("GetAccount", mock.Anything, "user1").Return(nil, models.ErrAccountNotFound).Once()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(RepoMock)
			cache := new(CacheMock)
			eng := New(repo, cache, newNoopLogger(), false, 10)

			tt.setupMocks(repo, cache)

			got, err := eng.GetBalance(context.Background(), "user1")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}

			repo.AssertExpectations(t)
			cache.AssertExpectations(t)
		})
	}
}

func TestEngine_InvalidateBalance(t *testing.T) {
	repo := new(RepoMock)
	cache := new(CacheMock)
	eng := New(repo, cache, newNoopLogger(), false, 10)

	active := &models.CreditAccount{UserUID: "user1", Balance: 420, Status: models.AccountActive}
	paused := &models.CreditAccount{UserUID: "user1", Balance: 420, Status: models.AccountPaused}

	cache.On("Get", "balance:user1", mock.Anything).Return(false, nil).Twice()
	cache.On("Set", "balance:user1", mock.Anything, 5*time.Minute).Return(nil).Twice()
	repo.On("GetAccount", mock.Anything, "user1").Return(active, nil).Once()
	repo.On("GetAccount", mock.Anything, "user1").Return(paused, nil).Once()
	repo.On("GetSubscriptionSummary", mock.Anything, "user1").Return(nil, nil).Twice()
	cache.On("Invalidate", "balance:user1").Return(nil).Once()

	got, err := eng.GetBalance(context.Background(), "user1")
	assert.NoError(t, err)
	assert.Equal(t, models.AccountActive, got.Status)

	// Пауза аккаунта меняет статус мимо леджера, кэш сбрасывается явно.
	eng.InvalidateBalance("user1")

	got, err = eng.GetBalance(context.Background(), "user1")
	assert.NoError(t, err)
	assert.Equal(t, models.AccountPaused, got.Status)

	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestEngine_GetSummary(t *testing.T) {
	now := time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC)
	monthStart := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	acc := &models.CreditAccount{UserUID: "user1", Balance: 700, Status: models.AccountActive}

	t.Run("rate from subscription package", func(t *testing.T) {
		repo := new(RepoMock)
		cache := new(CacheMock)
		eng := New(repo, cache, newNoopLogger(), false, 10)

		sub := &models.SubscriptionSummary{ID: 7, PackageID: 3, PackageName: "Pro", Status: models.SubscriptionActive}
		repo.On("GetAccount", mock.Anything, "user1").Return(acc, nil).Once()
		repo.On("MonthlyTotals", mock.Anything, "user1", monthStart).Return(1000, 300, 12, nil).Once()
		repo.On("GetSubscriptionSummary", mock.Anything, "user1").Return(sub, nil).Once()
		repo.On("GetPackage", mock.Anything, 3).Return(&models.Package{ID: 3, Name: "Pro", CreditRate: 4}, nil).Once()

		got, err := eng.GetSummary(context.Background(), "user1", now)
		assert.NoError(t, err)
		assert.Equal(t, 700, got.Balance)
		assert.Equal(t, 1000, got.MonthlyAdded)
		assert.Equal(t, 300, got.MonthlySpent)
		assert.Equal(t, 700, got.MonthlyNet)
		assert.Equal(t, 12, got.TotalTransactions)
		assert.Equal(t, 4, got.CreditRate)
		assert.Equal(t, 1200, got.EstimatedMonthlyCost)
		repo.AssertExpectations(t)
	})

	t.Run("default rate without subscription", func(t *testing.T) {
		repo := new(RepoMock)
		cache := new(CacheMock)
		eng := New(repo, cache, newNoopLogger(), false, 10)

		repo.On("GetAccount", mock.Anything, "user1").Return(acc, nil).Once()
		repo.On("MonthlyTotals", mock.Anything, "user1", monthStart).Return(0, 50, 3, nil).Once()
		repo.On("GetSubscriptionSummary", mock.Anything, "user1").Return(nil, nil).Once()

		got, err := eng.GetSummary(context.Background(), "user1", now)
		assert.NoError(t, err)
		assert.Equal(t, 10, got.CreditRate)
		assert.Equal(t, 500, got.EstimatedMonthlyCost)
		assert.Nil(t, got.Subscription)
		repo.AssertExpectations(t)
	})
}

func TestEngine_ApplyCycle(t *testing.T) {
	periodStart := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	nextBilling := periodStart.AddDate(0, 1, 0)
	sub := &models.Subscription{ID: 7, UserUID: "user1", PackageID: 2, MonthlyCreditLimit: 1000, Status: models.SubscriptionActive}
	pkg := &models.Package{ID: 2, Name: "Pro", MonthlyCredits: 1000, RolloverEnabled: true}

	t.Run("builds grant and expire entries", func(t *testing.T) {
		repo := new(RepoMock)
		cache := new(CacheMock)
		eng := New(repo, cache, newNoopLogger(), false, 10)

		repo.On("ApplyBillingCycle", mock.Anything, mock.MatchedBy(func(p models.CycleParams) bool {
			return p.Subscription == sub &&
				p.PeriodStart.Equal(periodStart) &&
				p.NextBillingDate.Equal(nextBilling) &&
				p.NewStatus == models.SubscriptionActive &&
				p.RolloverEnabled && p.RolloverCeiling == 2000 &&
				p.GrantEntry.Amount == 1000 && p.GrantEntry.Kind == models.KindSubscription &&
				p.ExpireEntry != nil && *p.GrantEntry.SubscriptionID == 7
		})).Return(&models.CycleResult{NewBalance: 1200, Expired: 100, RolloverCredits: 200}, nil).Once()
		cache.On("Invalidate", "balance:user1").Return(nil).Once()

		got, err := eng.ApplyCycle(context.Background(), sub, pkg, periodStart, nextBilling, 2000)
		assert.NoError(t, err)
		assert.Equal(t, 1200, got.NewBalance)
		assert.Equal(t, 200, got.RolloverCredits)
		repo.AssertExpectations(t)
		cache.AssertExpectations(t)
	})

	t.Run("already billed propagated without invalidation", func(t *testing.T) {
		repo := new(RepoMock)
		cache := new(CacheMock)
		eng := New(repo, cache, newNoopLogger(), false, 10)

		repo.On("ApplyBillingCycle", mock.Anything, mock.Anything).
			Return(nil, models.ErrCycleAlreadyBilled).Once()

		_, err := eng.ApplyCycle(context.Background(), sub, pkg, periodStart, nextBilling, 2000)
		assert.ErrorIs(t, err, models.ErrCycleAlreadyBilled)
		repo.AssertExpectations(t)
		cache.AssertExpectations(t)
	})
}

func TestEngine_Reconcile(t *testing.T) {
	tests := []struct {
		name        string
		balance     int
		sum         int
		wantMatched bool
	}{
		{name: "matched", balance: 500, sum: 500, wantMatched: true},
		{name: "mismatch", balance: 500, sum: 480, wantMatched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(RepoMock)
			cache := new(CacheMock)
			eng := New(repo, cache, newNoopLogger(), false, 10)

			repo.On("GetAccount", mock.Anything, "user1").
				Return(&models.CreditAccount{UserUID: "user1", Balance: tt.balance}, nil).Once()
			repo.On("SumEntries", mock.Anything, "user1").Return(tt.sum, nil).Once()

			ok, err := eng.Reconcile(context.Background(), "user1")
			assert.NoError(t, err)
			assert.Equal(t, tt.wantMatched, ok)
			repo.AssertExpectations(t)
		})
	}
}

func TestEngine_ListTransactions(t *testing.T) {
	repo := new(RepoMock)
	cache := new(CacheMock)
	eng := New(repo, cache, newNoopLogger(), false, 10)

	entries := []*models.Transaction{{ID: "a", UserUID: "user1", Amount: -10}}
	kind := models.KindService
	filter := models.EntryFilter{Kind: &kind}

	repo.On("ListEntries", mock.Anything, "user1", 20, 40, filter).Return(entries, 55, nil).Once()

	got, total, err := eng.ListTransactions(context.Background(), "user1", 3, 20, filter)
	assert.NoError(t, err)
	assert.Equal(t, entries, got)
	assert.Equal(t, 55, total)
	repo.AssertExpectations(t)
}
