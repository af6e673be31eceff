package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

func TestStorage_ApplyEntry(t *testing.T) {
	tests := []struct {
		name        string
		balance     int
		status      string
		amount      int
		opts        models.ApplyOptions
		wantBalance int
		wantErr     error
	}{
		{
			name:        "credit increases balance",
			balance:     0,
			status:      models.AccountActive,
			amount:      500,
			opts:        models.ApplyOptions{},
			wantBalance: 500,
		},
		{
			name:        "debit within balance",
			balance:     300,
			status:      models.AccountActive,
			amount:      -120,
			opts:        models.ApplyOptions{EnforceActive: true},
			wantBalance: 180,
		},
		{
			name:    "debit exceeding balance rejected",
			balance: 100,
			status:  models.AccountActive,
			amount:  -150,
			opts:    models.ApplyOptions{EnforceActive: true},
			wantErr: models.ErrInsufficientCredits,
		},
		{
			name:        "admin write-off below zero",
			balance:     50,
			status:      models.AccountActive,
			amount:      -100,
			opts:        models.ApplyOptions{AllowNegative: true},
			wantBalance: -50,
		},
		{
			name:    "service debit on suspended account rejected",
			balance: 500,
			status:  models.AccountSuspended,
			amount:  -10,
			opts:    models.ApplyOptions{EnforceActive: true},
			wantErr: models.ErrAccountSuspended,
		},
		{
			name:    "service debit on paused account rejected",
			balance: 500,
			status:  models.AccountPaused,
			amount:  -10,
			opts:    models.ApplyOptions{EnforceActive: true},
			wantErr: models.ErrAccountSuspended,
		},
		{
			name:        "credit on suspended account allowed without enforcement",
			balance:     0,
			status:      models.AccountSuspended,
			amount:      200,
			opts:        models.ApplyOptions{},
			wantBalance: 200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, cleanup := setupTestDatabase(t)
			defer cleanup()

			userUID := uuid.New().String()
			factory := NewTestDataFactory(storage)
			factory.CreateAccount(t, userUID, tt.balance, tt.status)

			entry := newTestEntry(userUID, tt.amount, models.KindService, "test entry")
			gotBalance, err := storage.ApplyEntry(context.Background(), entry, tt.opts)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				// Отказ не оставляет следов ни в леджере, ни в балансе
				verification := NewTestVerification(storage)
				verification.VerifyBalance(t, userUID, tt.balance)
				verification.VerifyTransactionCount(t, userUID, 0)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantBalance, gotBalance)

			verification := NewTestVerification(storage)
			verification.VerifyBalance(t, userUID, tt.wantBalance)
			verification.VerifyTransactionCount(t, userUID, 1)
		})
	}
}

func TestStorage_ApplyEntry_UnknownAccount(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	entry := newTestEntry(uuid.New().String(), 100, models.KindPurchase, "credit")
	_, err := storage.ApplyEntry(context.Background(), entry, models.ApplyOptions{})
	require.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestStorage_ApplyEntry_DuplicatePaymentRef(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	userUID := uuid.New().String()
	factory := NewTestDataFactory(storage)
	factory.CreateAccount(t, userUID, 0, models.AccountActive)

	ref := "payment-abc-1"
	first := newTestEntry(userUID, 300, models.KindPurchase, "credit purchase")
	first.ExternalPaymentRef = &ref
	_, err := storage.ApplyEntry(context.Background(), first, models.ApplyOptions{})
	require.NoError(t, err)

	second := newTestEntry(userUID, 300, models.KindPurchase, "credit purchase")
	second.ExternalPaymentRef = &ref
	_, err = storage.ApplyEntry(context.Background(), second, models.ApplyOptions{})
	require.ErrorIs(t, err, models.ErrDuplicatePayment)

	// Повтор не зачисляет второй раз
	verification := NewTestVerification(storage)
	verification.VerifyBalance(t, userUID, 300)
	verification.VerifyTransactionCount(t, userUID, 1)

	found, ok, err := storage.FindByPaymentRef(context.Background(), ref)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.ID, found.ID)
}

// Баланс аккаунта в любой момент равен сумме записей леджера:
// зачисление покупки, сервисное списание и возврат по диспуту.
func TestStorage_BalanceMatchesLedger(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	userUID := uuid.New().String()
	factory := NewTestDataFactory(storage)
	factory.CreateAccount(t, userUID, 0, models.AccountActive)
	verification := NewTestVerification(storage)

	_, err := storage.ApplyEntry(ctx, newTestEntry(userUID, 500, models.KindPurchase, "credit purchase"), models.ApplyOptions{})
	require.NoError(t, err)
	verification.VerifyBalanceMatchesLedger(t, userUID)

	debit := newTestEntry(userUID, -120, models.KindService, "render job")
	_, err = storage.ApplyEntry(ctx, debit, models.ApplyOptions{EnforceActive: true})
	require.NoError(t, err)
	verification.VerifyBalanceMatchesLedger(t, userUID)

	disputeID := factory.CreateDispute(t, userUID, &debit.ID, "service failed", models.DisputeUnderReview)
	refund := newTestEntry(userUID, 120, models.KindDispute, "dispute refund")
	resolved := 120
	_, newBalance, err := storage.ResolveDispute(ctx, disputeID, uuid.New().String(),
		models.ResolutionFullRefund, &resolved, "confirmed", models.DisputeResolved, refund)
	require.NoError(t, err)
	assert.Equal(t, 500, newBalance)

	verification.VerifyBalanceMatchesLedger(t, userUID)
	verification.VerifyTransactionCount(t, userUID, 3)

	sum, err := storage.SumEntries(ctx, userUID)
	require.NoError(t, err)
	assert.Equal(t, 500, sum)
}

func TestStorage_ApplyEntry_Concurrent(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	userUID := uuid.New().String()
	factory := NewTestDataFactory(storage)
	factory.CreateAccount(t, userUID, 50, models.AccountActive)

	// 10 конкурентных списаний по 10 кредитов с баланса 50:
	// ровно 5 проходят, остальные получают отказ, овердрафта нет.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry := newTestEntry(userUID, -10, models.KindService, "concurrent debit")
			_, err := storage.ApplyEntry(ctx, entry, models.ApplyOptions{EnforceActive: true})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			default:
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, rejected)

	verification := NewTestVerification(storage)
	verification.VerifyBalance(t, userUID, 0)
	verification.VerifyBalanceMatchesLedger(t, userUID)
}

func TestStorage_ApplyBillingCycle(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	userUID := uuid.New().String()
	factory := NewTestDataFactory(storage)
	factory.CreateAccount(t, userUID, 0, models.AccountActive)
	packageID := factory.CreatePackage(t, "Pro", 2900, 1000, 3, false)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	subID := factory.CreateSubscription(t, userUID, packageID, models.SubscriptionTrial,
		startDate, startDate, 1000, 0, 0)

	sub := &models.Subscription{
		ID:              subID,
		UserUID:         userUID,
		PackageID:       packageID,
		Status:          models.SubscriptionTrial,
		NextBillingDate: startDate,
	}
	params := models.CycleParams{
		Subscription:    sub,
		PeriodStart:     startDate,
		NextBillingDate: startDate.AddDate(0, 1, 0),
		NewStatus:       models.SubscriptionActive,
		GrantEntry:      newTestEntry(userUID, 1000, models.KindSubscription, "monthly credits: Pro"),
		ExpireEntry:     newTestEntry(userUID, 0, models.KindSubscription, "expired unused credits"),
	}
	params.GrantEntry.SubscriptionID = &subID
	params.ExpireEntry.SubscriptionID = &subID

	result, err := storage.ApplyBillingCycle(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 1000, result.NewBalance)
	assert.Equal(t, 0, result.Expired)

	verification := NewTestVerification(storage)
	verification.VerifyBalance(t, userUID, 1000)
	// Первое начисление конвертирует триал в активную подписку
	verification.VerifySubscriptionStatus(t, subID, models.SubscriptionActive)

	// Повторный прогон того же периода — идемпотентный отказ без начисления
	params.GrantEntry = newTestEntry(userUID, 1000, models.KindSubscription, "monthly credits: Pro")
	params.ExpireEntry = newTestEntry(userUID, 0, models.KindSubscription, "expired unused credits")
	_, err = storage.ApplyBillingCycle(ctx, params)
	require.ErrorIs(t, err, models.ErrCycleAlreadyBilled)

	verification.VerifyBalance(t, userUID, 1000)
	verification.VerifyTransactionCount(t, userUID, 1)
	verification.VerifyBalanceMatchesLedger(t, userUID)
}

func TestStorage_ApplyBillingCycle_ExpireAndRollover(t *testing.T) {
	tests := []struct {
		name            string
		rolloverEnabled bool
		rolloverCeiling int
		balance         int
		granted         int
		wantExpired     int
		wantCarry       int
		wantBalance     int
	}{
		{
			name:        "unused credits expire without rollover",
			balance:     200,
			granted:     1000,
			wantExpired: 200,
			wantCarry:   0,
			wantBalance: 1000,
		},
		{
			name:            "rollover keeps unused up to ceiling",
			rolloverEnabled: true,
			rolloverCeiling: 100,
			balance:         200,
			granted:         1000,
			wantExpired:     100,
			wantCarry:       100,
			wantBalance:     1100,
		},
		{
			name:            "rollover below ceiling keeps everything",
			rolloverEnabled: true,
			rolloverCeiling: 500,
			balance:         150,
			granted:         1000,
			wantExpired:     0,
			wantCarry:       150,
			wantBalance:     1150,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, cleanup := setupTestDatabase(t)
			defer cleanup()
			ctx := context.Background()

			userUID := uuid.New().String()
			factory := NewTestDataFactory(storage)
			factory.CreateAccount(t, userUID, tt.balance, models.AccountActive)
			// Записи леджера прошлого цикла, чтобы баланс сходился с суммой
			factory.CreateTransaction(t, userUID, tt.balance, models.KindSubscription, "previous cycle")
			packageID := factory.CreatePackage(t, "Pro", 2900, tt.granted, 3, tt.rolloverEnabled)

			startDate := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
			subID := factory.CreateSubscription(t, userUID, packageID, models.SubscriptionActive,
				startDate.AddDate(0, -1, 0), startDate, tt.granted, tt.granted, 0)

			sub := &models.Subscription{
				ID:                      subID,
				UserUID:                 userUID,
				PackageID:               packageID,
				Status:                  models.SubscriptionActive,
				NextBillingDate:         startDate,
				CreditsGrantedThisCycle: tt.granted,
			}
			params := models.CycleParams{
				Subscription:    sub,
				PeriodStart:     startDate,
				NextBillingDate: startDate.AddDate(0, 1, 0),
				NewStatus:       models.SubscriptionActive,
				RolloverEnabled: tt.rolloverEnabled,
				RolloverCeiling: tt.rolloverCeiling,
				GrantEntry:      newTestEntry(userUID, tt.granted, models.KindSubscription, "monthly credits: Pro"),
				ExpireEntry:     newTestEntry(userUID, 0, models.KindSubscription, "expired unused credits"),
			}

			result, err := storage.ApplyBillingCycle(ctx, params)
			require.NoError(t, err)
			assert.Equal(t, tt.wantExpired, result.Expired)
			assert.Equal(t, tt.wantCarry, result.RolloverCredits)
			assert.Equal(t, tt.wantBalance, result.NewBalance)

			verification := NewTestVerification(storage)
			verification.VerifyBalance(t, userUID, tt.wantBalance)
			verification.VerifyBalanceMatchesLedger(t, userUID)
		})
	}
}

func TestStorage_ResolveDispute_Twice(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	userUID := uuid.New().String()
	adminUID := uuid.New().String()
	factory := NewTestDataFactory(storage)
	factory.CreateAccount(t, userUID, 0, models.AccountActive)
	disputeID := factory.CreateDispute(t, userUID, nil, "missing credits", models.DisputeUnderReview)

	resolved := 80
	refund := newTestEntry(userUID, 80, models.KindDispute, "dispute refund")
	d, newBalance, err := storage.ResolveDispute(ctx, disputeID, adminUID,
		models.ResolutionPartialRefund, &resolved, "approved", models.DisputeResolved, refund)
	require.NoError(t, err)
	assert.Equal(t, models.DisputeResolved, d.Status)
	assert.Equal(t, 80, newBalance)
	require.NotNil(t, d.ResolvedAt)

	// Повторная резолюция отклоняется и не создаёт вторую компенсацию
	refund2 := newTestEntry(userUID, 80, models.KindDispute, "dispute refund")
	_, _, err = storage.ResolveDispute(ctx, disputeID, adminUID,
		models.ResolutionPartialRefund, &resolved, "approved", models.DisputeResolved, refund2)
	require.ErrorIs(t, err, models.ErrAlreadyResolved)

	verification := NewTestVerification(storage)
	verification.VerifyBalance(t, userUID, 80)
	verification.VerifyTransactionCount(t, userUID, 1)
	verification.VerifyDisputeStatus(t, disputeID, models.DisputeResolved)
}

func TestStorage_UpdateDisputeReview_GuardedTransition(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	userUID := uuid.New().String()
	adminUID := uuid.New().String()
	factory := NewTestDataFactory(storage)
	factory.CreateAccount(t, userUID, 0, models.AccountActive)

	pending := factory.CreateDispute(t, userUID, nil, "missing credits", models.DisputePending)
	rows, err := storage.UpdateDisputeReview(ctx, pending, adminUID,
		models.DisputeUnderReview, "looking into it", []string{models.DisputePending, models.DisputeAppealed})
	require.NoError(t, err)
	assert.Equal(t, 1, rows)

	resolvedDispute := factory.CreateDispute(t, userUID, nil, "other", models.DisputeResolved)
	rows, err = storage.UpdateDisputeReview(ctx, resolvedDispute, adminUID,
		models.DisputeUnderReview, "", []string{models.DisputePending, models.DisputeAppealed})
	require.NoError(t, err)
	assert.Equal(t, 0, rows)
}

func TestStorage_ListEntries(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	userUID := uuid.New().String()
	factory := NewTestDataFactory(storage)
	factory.CreateAccount(t, userUID, 0, models.AccountActive)

	for range 3 {
		_, err := storage.ApplyEntry(ctx, newTestEntry(userUID, 100, models.KindPurchase, "purchase"), models.ApplyOptions{})
		require.NoError(t, err)
	}
	_, err := storage.ApplyEntry(ctx, newTestEntry(userUID, -50, models.KindService, "render job"),
		models.ApplyOptions{EnforceActive: true})
	require.NoError(t, err)

	full, total, err := storage.ListEntries(ctx, userUID, 10, 0, models.EntryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, full, 4)
	for i := 1; i < len(full); i++ {
		assert.False(t, full[i].CreatedAt.After(full[i-1].CreatedAt), "entries must be ordered newest first")
	}

	kind := models.KindService
	got, total, err := storage.ListEntries(ctx, userUID, 10, 0, models.EntryFilter{Kind: &kind})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, got, 1)
	assert.Equal(t, -50, got[0].Amount)

	// Страницы склеиваются в полный список без пропусков и дублей.
	page1, total, err := storage.ListEntries(ctx, userUID, 2, 0, models.EntryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page1, 2)

	page2, total, err := storage.ListEntries(ctx, userUID, 2, 2, models.EntryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page2, 2)

	var paged []string
	for _, e := range append(page1, page2...) {
		paged = append(paged, e.ID)
	}
	var all []string
	for _, e := range full {
		all = append(all, e.ID)
	}
	assert.Equal(t, all, paged)
}

func TestStorage_CreateSubscription_SecondOpenRejected(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	userUID := uuid.New().String()
	factory := NewTestDataFactory(storage)
	factory.CreateAccount(t, userUID, 0, models.AccountActive)
	packageID := factory.CreatePackage(t, "Starter", 900, 300, 3, false)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := models.Subscription{
		UserUID:            userUID,
		PackageID:          packageID,
		Status:             models.SubscriptionActive,
		StartDate:          startDate,
		NextBillingDate:    startDate.AddDate(0, 1, 0),
		MonthlyCreditLimit: 300,
	}
	_, err := storage.CreateSubscription(ctx, sub)
	require.NoError(t, err)

	_, err = storage.CreateSubscription(ctx, sub)
	require.ErrorIs(t, err, models.ErrSubscriptionExists)
}

func TestStorage_UpdateSubscriptionStatus_Guarded(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	userUID := uuid.New().String()
	factory := NewTestDataFactory(storage)
	factory.CreateAccount(t, userUID, 0, models.AccountActive)
	packageID := factory.CreatePackage(t, "Starter", 900, 300, 3, false)

	startDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	subID := factory.CreateSubscription(t, userUID, packageID, models.SubscriptionActive,
		startDate, startDate.AddDate(0, 1, 0), 300, 300, 0)

	rows, err := storage.UpdateSubscriptionStatus(ctx, subID,
		[]string{models.SubscriptionActive}, models.SubscriptionPaused, "vacation", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rows)

	verification := NewTestVerification(storage)
	verification.VerifySubscriptionStatus(t, subID, models.SubscriptionPaused)

	// Переход из уже изменённого статуса не проходит
	rows, err = storage.UpdateSubscriptionStatus(ctx, subID,
		[]string{models.SubscriptionActive}, models.SubscriptionPaused, "vacation", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rows)
}

func TestStorage_FindDueSubscriptions(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	factory := NewTestDataFactory(storage)
	packageID := 0
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	makeSub := func(status string, due time.Time) {
		userUID := uuid.New().String()
		factory.CreateAccount(t, userUID, 0, models.AccountActive)
		if packageID == 0 {
			packageID = factory.CreatePackage(t, "Pro", 2900, 1000, 3, false)
		}
		factory.CreateSubscription(t, userUID, packageID, status,
			due.AddDate(0, -1, 0), due, 1000, 1000, 0)
	}

	makeSub(models.SubscriptionActive, now.AddDate(0, 0, -1)) // due
	makeSub(models.SubscriptionTrial, now)                    // due
	makeSub(models.SubscriptionActive, now.AddDate(0, 0, 5))  // not yet
	makeSub(models.SubscriptionPaused, now.AddDate(0, 0, -1)) // paused is skipped
	makeSub(models.SubscriptionCancelled, now.AddDate(0, 0, -1))

	due, err := storage.FindDueSubscriptions(ctx, now)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestStorage_GetPromotionByCode(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	ctx := context.Background()

	factory := NewTestDataFactory(storage)
	now := time.Now().UTC()
	factory.CreatePromotion(t, "WELCOME10", "percent", 10, now.AddDate(0, 0, -1), now.AddDate(0, 1, 0))

	promo, ok, err := storage.GetPromotionByCode(ctx, "WELCOME10")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "percent", promo.DiscountType)
	assert.Equal(t, 10, promo.DiscountValue)

	_, ok, err = storage.GetPromotionByCode(ctx, "UNKNOWN")
	require.NoError(t, err)
	assert.False(t, ok)
}
