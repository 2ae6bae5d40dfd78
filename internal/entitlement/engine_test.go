package entitlement

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cardforge/cardforge/internal/db"
	"github.com/cardforge/cardforge/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "entitlement-test.db")
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	// Single connection keeps concurrent writes serialized at the driver.
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func seedUser(t *testing.T, conn *gorm.DB, tier models.PlanTier, createdAt time.Time) *models.User {
	t.Helper()
	var plan models.Plan
	if errFind := conn.Where("tier = ?", tier).First(&plan).Error; errFind != nil {
		t.Fatalf("find plan %s: %v", tier, errFind)
	}
	user := models.User{
		Email:              string(tier) + "-" + createdAt.Format("20060102150405.000000000") + "@example.com",
		Name:               "Test User",
		PlanID:             &plan.ID,
		SubscriptionStatus: "active",
		Active:             true,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
	}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return &user
}

func newTestEngine(conn *gorm.DB, now time.Time) *Engine {
	engine := NewEngine(conn)
	engine.nowFn = func() time.Time { return now }
	return engine
}

func TestResolveTier_MissingUserDegradesToFree(t *testing.T) {
	conn := openTestDB(t)
	engine := NewEngine(conn)

	tier, user, errResolve := engine.ResolveTier(context.Background(), 999)
	if errResolve != nil {
		t.Fatalf("ResolveTier: %v", errResolve)
	}
	if tier != models.PlanTierFree {
		t.Fatalf("expected FREE tier, got %s", tier)
	}
	if user != nil {
		t.Fatalf("expected nil user for missing row")
	}
}

func TestResolveTier_LapsedSubscriptionDegradesToFree(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(conn, now)

	user := seedUser(t, conn, models.PlanTierBasic, now.Add(-30*24*time.Hour))
	ended := now.Add(-time.Hour)
	if errUpdate := conn.Model(user).Updates(map[string]any{
		"subscription_ends_at": ended,
	}).Error; errUpdate != nil {
		t.Fatalf("update user: %v", errUpdate)
	}

	tier, _, errResolve := engine.ResolveTier(context.Background(), user.ID)
	if errResolve != nil {
		t.Fatalf("ResolveTier: %v", errResolve)
	}
	if tier != models.PlanTierFree {
		t.Fatalf("expected FREE tier for lapsed subscription, got %s", tier)
	}
}

func TestClaimDailyCredits(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(conn, now)
	user := seedUser(t, conn, models.PlanTierFree, now.Add(-48*time.Hour))

	peek, errPeek := engine.PeekDailyCredits(context.Background(), user.ID)
	if errPeek != nil {
		t.Fatalf("PeekDailyCredits: %v", errPeek)
	}
	if peek.HasClaimed {
		t.Fatalf("expected unclaimed state before claim")
	}
	if peek.AvailableCredits != 3 {
		t.Fatalf("expected 3 available credits, got %d", peek.AvailableCredits)
	}

	claim, errClaim := engine.ClaimDailyCredits(context.Background(), user.ID)
	if errClaim != nil {
		t.Fatalf("ClaimDailyCredits: %v", errClaim)
	}
	if claim.Status != ClaimStatusClaimed {
		t.Fatalf("expected claimed, got %s", claim.Status)
	}
	if !claim.HasClaimed || claim.AvailableCredits != 3 {
		t.Fatalf("unexpected claim result: %+v", claim)
	}

	again, errAgain := engine.ClaimDailyCredits(context.Background(), user.ID)
	if errAgain != nil {
		t.Fatalf("second ClaimDailyCredits: %v", errAgain)
	}
	if again.Status != ClaimStatusAlreadyClaimed {
		t.Fatalf("expected already_claimed, got %s", again.Status)
	}
}

func TestClaimDailyCredits_FirstDayNeedsNoClaim(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(conn, now)
	user := seedUser(t, conn, models.PlanTierFree, now.Add(-time.Hour))

	claim, errClaim := engine.ClaimDailyCredits(context.Background(), user.ID)
	if errClaim != nil {
		t.Fatalf("ClaimDailyCredits: %v", errClaim)
	}
	if claim.Status != ClaimStatusFirstDay {
		t.Fatalf("expected first_day, got %s", claim.Status)
	}
	if !claim.IsFirstDay || !claim.HasClaimed {
		t.Fatalf("unexpected first-day result: %+v", claim)
	}
	if claim.AvailableCredits != 3 {
		t.Fatalf("expected welcome allowance 3, got %d", claim.AvailableCredits)
	}

	var count int64
	if errCount := conn.Model(&models.DailyUsage{}).Where("user_id = ?", user.ID).Count(&count).Error; errCount != nil {
		t.Fatalf("count usage rows: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("first-day claim should not create a usage row, found %d", count)
	}
}

func TestClaimDailyCredits_UnknownUser(t *testing.T) {
	conn := openTestDB(t)
	engine := NewEngine(conn)

	if _, errClaim := engine.ClaimDailyCredits(context.Background(), 424242); errClaim != ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", errClaim)
	}
}

func TestPremiumUnlimited(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(conn, now)
	user := seedUser(t, conn, models.PlanTierPremium, now.Add(-48*time.Hour))

	claim, errClaim := engine.ClaimDailyCredits(context.Background(), user.ID)
	if errClaim != nil {
		t.Fatalf("ClaimDailyCredits: %v", errClaim)
	}
	if claim.Status != ClaimStatusUnlimited || !claim.Unlimited {
		t.Fatalf("expected unlimited claim, got %+v", claim)
	}

	for i := 0; i < 10; i++ {
		reserve, errReserve := engine.ReserveGeneration(context.Background(), user.ID)
		if errReserve != nil {
			t.Fatalf("ReserveGeneration %d: %v", i, errReserve)
		}
		if !reserve.Admitted || reserve.Source != ReserveSourceUnlimited {
			t.Fatalf("expected unlimited admission, got %+v", reserve)
		}
	}

	// Usage is still tracked even though no limit applies.
	var row models.DailyUsage
	if errFind := conn.Where("user_id = ?", user.ID).First(&row).Error; errFind != nil {
		t.Fatalf("find usage row: %v", errFind)
	}
	if row.Count != 10 {
		t.Fatalf("expected 10 tracked generations, got %d", row.Count)
	}

	decision, errCheck := engine.CheckFeature(context.Background(), user.ID, models.FeatureDailyGenerations)
	if errCheck != nil {
		t.Fatalf("CheckFeature: %v", errCheck)
	}
	if !decision.Allowed || !decision.Unlimited {
		t.Fatalf("expected unlimited feature decision, got %+v", decision)
	}
}

func TestReserveGeneration_RequiresClaim(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(conn, now)
	user := seedUser(t, conn, models.PlanTierFree, now.Add(-48*time.Hour))

	reserve, errReserve := engine.ReserveGeneration(context.Background(), user.ID)
	if errReserve != nil {
		t.Fatalf("ReserveGeneration: %v", errReserve)
	}
	if reserve.Admitted {
		t.Fatalf("expected denial before claim")
	}
	if reserve.Message != "Daily credits not claimed yet." {
		t.Fatalf("unexpected denial message: %q", reserve.Message)
	}
}

func TestReserveGeneration_DailyLimitThenBonus(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(conn, now)
	user := seedUser(t, conn, models.PlanTierFree, now.Add(-48*time.Hour))

	if _, errClaim := engine.ClaimDailyCredits(context.Background(), user.ID); errClaim != nil {
		t.Fatalf("ClaimDailyCredits: %v", errClaim)
	}

	for i := 0; i < 3; i++ {
		reserve, errReserve := engine.ReserveGeneration(context.Background(), user.ID)
		if errReserve != nil {
			t.Fatalf("ReserveGeneration %d: %v", i, errReserve)
		}
		if !reserve.Admitted || reserve.Source != ReserveSourceDailyQuota {
			t.Fatalf("expected daily quota admission, got %+v", reserve)
		}
	}

	denied, errDenied := engine.ReserveGeneration(context.Background(), user.ID)
	if errDenied != nil {
		t.Fatalf("ReserveGeneration after limit: %v", errDenied)
	}
	if denied.Admitted {
		t.Fatalf("expected denial at daily limit")
	}
	if denied.Message != "Daily limit reached." {
		t.Fatalf("unexpected denial message: %q", denied.Message)
	}

	grant := models.BonusCredit{UserID: user.ID, Amount: 2, Reason: "promo", CreatedAt: now, UpdatedAt: now}
	if errCreate := conn.Create(&grant).Error; errCreate != nil {
		t.Fatalf("create grant: %v", errCreate)
	}

	for i := 0; i < 2; i++ {
		reserve, errReserve := engine.ReserveGeneration(context.Background(), user.ID)
		if errReserve != nil {
			t.Fatalf("bonus ReserveGeneration %d: %v", i, errReserve)
		}
		if !reserve.Admitted || reserve.Source != ReserveSourceBonusCredit {
			t.Fatalf("expected bonus credit admission, got %+v", reserve)
		}
	}

	var spent models.BonusCredit
	if errFind := conn.First(&spent, grant.ID).Error; errFind != nil {
		t.Fatalf("find grant: %v", errFind)
	}
	if !spent.Used || spent.Amount != 0 || spent.UsedAt == nil {
		t.Fatalf("expected exhausted grant, got %+v", spent)
	}

	final, errFinal := engine.ReserveGeneration(context.Background(), user.ID)
	if errFinal != nil {
		t.Fatalf("final ReserveGeneration: %v", errFinal)
	}
	if final.Admitted {
		t.Fatalf("expected denial once bonus credits are exhausted")
	}
}

func TestReserveGeneration_BonusExpiryOrder(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(conn, now)
	user := seedUser(t, conn, models.PlanTierFree, now.Add(-48*time.Hour))

	if _, errClaim := engine.ClaimDailyCredits(context.Background(), user.ID); errClaim != nil {
		t.Fatalf("ClaimDailyCredits: %v", errClaim)
	}
	// Exhaust the daily allowance so reservations hit bonus credits.
	for i := 0; i < 3; i++ {
		if _, errReserve := engine.ReserveGeneration(context.Background(), user.ID); errReserve != nil {
			t.Fatalf("ReserveGeneration %d: %v", i, errReserve)
		}
	}

	lateExpiry := now.Add(72 * time.Hour)
	soonExpiry := now.Add(24 * time.Hour)
	late := models.BonusCredit{UserID: user.ID, Amount: 1, Reason: "late", ExpiresAt: &lateExpiry, CreatedAt: now, UpdatedAt: now}
	soon := models.BonusCredit{UserID: user.ID, Amount: 1, Reason: "soon", ExpiresAt: &soonExpiry, CreatedAt: now, UpdatedAt: now}
	if errCreate := conn.Create(&late).Error; errCreate != nil {
		t.Fatalf("create late grant: %v", errCreate)
	}
	if errCreate := conn.Create(&soon).Error; errCreate != nil {
		t.Fatalf("create soon grant: %v", errCreate)
	}

	if _, errReserve := engine.ReserveGeneration(context.Background(), user.ID); errReserve != nil {
		t.Fatalf("ReserveGeneration: %v", errReserve)
	}

	var spent models.BonusCredit
	if errFind := conn.First(&spent, soon.ID).Error; errFind != nil {
		t.Fatalf("find soon grant: %v", errFind)
	}
	if !spent.Used {
		t.Fatalf("expected the soonest-expiring grant to be consumed first")
	}
	var untouched models.BonusCredit
	if errFind := conn.First(&untouched, late.ID).Error; errFind != nil {
		t.Fatalf("find late grant: %v", errFind)
	}
	if untouched.Used {
		t.Fatalf("late-expiring grant should remain unused")
	}
}

func TestReserveGeneration_ExpiredBonusIgnored(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(conn, now)
	user := seedUser(t, conn, models.PlanTierFree, now.Add(-48*time.Hour))

	if _, errClaim := engine.ClaimDailyCredits(context.Background(), user.ID); errClaim != nil {
		t.Fatalf("ClaimDailyCredits: %v", errClaim)
	}
	for i := 0; i < 3; i++ {
		if _, errReserve := engine.ReserveGeneration(context.Background(), user.ID); errReserve != nil {
			t.Fatalf("ReserveGeneration %d: %v", i, errReserve)
		}
	}

	expired := now.Add(-time.Hour)
	grant := models.BonusCredit{UserID: user.ID, Amount: 5, Reason: "expired", ExpiresAt: &expired, CreatedAt: now, UpdatedAt: now}
	if errCreate := conn.Create(&grant).Error; errCreate != nil {
		t.Fatalf("create grant: %v", errCreate)
	}

	reserve, errReserve := engine.ReserveGeneration(context.Background(), user.ID)
	if errReserve != nil {
		t.Fatalf("ReserveGeneration: %v", errReserve)
	}
	if reserve.Admitted {
		t.Fatalf("expired grant must not admit a generation")
	}

	available, errSum := engine.AvailableBonusCredits(context.Background(), user.ID)
	if errSum != nil {
		t.Fatalf("AvailableBonusCredits: %v", errSum)
	}
	if available != 0 {
		t.Fatalf("expected 0 available bonus credits, got %d", available)
	}
}

func TestReserveGeneration_FirstDayWelcomeAllowance(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(conn, now)
	user := seedUser(t, conn, models.PlanTierFree, now.Add(-time.Hour))

	// No claim needed on the first day.
	for i := 0; i < 3; i++ {
		reserve, errReserve := engine.ReserveGeneration(context.Background(), user.ID)
		if errReserve != nil {
			t.Fatalf("ReserveGeneration %d: %v", i, errReserve)
		}
		if !reserve.Admitted || reserve.Source != ReserveSourceWelcome {
			t.Fatalf("expected welcome admission, got %+v", reserve)
		}
	}

	denied, errDenied := engine.ReserveGeneration(context.Background(), user.ID)
	if errDenied != nil {
		t.Fatalf("ReserveGeneration after welcome: %v", errDenied)
	}
	if denied.Admitted {
		t.Fatalf("expected denial once welcome allowance is spent")
	}
	if denied.Message != "Daily limit reached." {
		t.Fatalf("unexpected denial message: %q", denied.Message)
	}
}

func TestReserveGeneration_MonthlyLimit(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(conn, now)
	user := seedUser(t, conn, models.PlanTierFree, now.Add(-60*24*time.Hour))

	// Backfill usage rows that consume the whole monthly budget.
	day := DayStart(now, 0)
	for i := 1; i <= 10; i++ {
		row := models.DailyUsage{
			UserID:    user.ID,
			Day:       day.AddDate(0, 0, -i),
			Count:     3,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if errCreate := conn.Create(&row).Error; errCreate != nil {
			t.Fatalf("create usage row %d: %v", i, errCreate)
		}
	}

	if _, errClaim := engine.ClaimDailyCredits(context.Background(), user.ID); errClaim != nil {
		t.Fatalf("ClaimDailyCredits: %v", errClaim)
	}

	reserve, errReserve := engine.ReserveGeneration(context.Background(), user.ID)
	if errReserve != nil {
		t.Fatalf("ReserveGeneration: %v", errReserve)
	}
	if reserve.Admitted {
		t.Fatalf("expected denial at monthly limit")
	}
	if reserve.Message != "Monthly limit reached." {
		t.Fatalf("unexpected denial message: %q", reserve.Message)
	}
}

func TestReserveGeneration_ConcurrentNeverExceedsLimit(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(conn, now)
	user := seedUser(t, conn, models.PlanTierBasic, now.Add(-48*time.Hour))

	if _, errClaim := engine.ClaimDailyCredits(context.Background(), user.ID); errClaim != nil {
		t.Fatalf("ClaimDailyCredits: %v", errClaim)
	}

	const attempts = 40
	var wg sync.WaitGroup
	admitted := make(chan ReserveSource, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reserve, errReserve := engine.ReserveGeneration(context.Background(), user.ID)
			if errReserve != nil {
				t.Errorf("ReserveGeneration: %v", errReserve)
				return
			}
			if reserve.Admitted {
				admitted <- reserve.Source
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	if count != 20 {
		t.Fatalf("expected exactly 20 admissions, got %d", count)
	}

	var row models.DailyUsage
	if errFind := conn.Where("user_id = ?", user.ID).First(&row).Error; errFind != nil {
		t.Fatalf("find usage row: %v", errFind)
	}
	if row.Count != 20 {
		t.Fatalf("expected counter at the limit, got %d", row.Count)
	}
}

func TestCheckFeature_MissingLimit(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(conn, now)
	user := seedUser(t, conn, models.PlanTierFree, now.Add(-48*time.Hour))

	decision, errCheck := engine.CheckFeature(context.Background(), user.ID, models.FeaturePriorityRendering)
	if errCheck != nil {
		t.Fatalf("CheckFeature: %v", errCheck)
	}
	if decision.Allowed {
		t.Fatalf("FREE tier should not have priority rendering")
	}
	if decision.Message != "Feature not available in your plan." {
		t.Fatalf("unexpected message: %q", decision.Message)
	}
}

func TestCheckFeature_BooleanLimit(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(conn, now)
	user := seedUser(t, conn, models.PlanTierBasic, now.Add(-48*time.Hour))

	decision, errCheck := engine.CheckFeature(context.Background(), user.ID, models.FeaturePriorityRendering)
	if errCheck != nil {
		t.Fatalf("CheckFeature: %v", errCheck)
	}
	if !decision.Allowed {
		t.Fatalf("BASIC tier should have priority rendering")
	}
}

func TestDisabledUserDeniedEverywhere(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(conn, now)
	user := seedUser(t, conn, models.PlanTierBasic, now.Add(-48*time.Hour))

	if errUpdate := conn.Model(user).Update("active", false).Error; errUpdate != nil {
		t.Fatalf("disable user: %v", errUpdate)
	}

	reserve, errReserve := engine.ReserveGeneration(context.Background(), user.ID)
	if errReserve != nil {
		t.Fatalf("ReserveGeneration: %v", errReserve)
	}
	if reserve.Admitted {
		t.Fatalf("disabled user must not be admitted")
	}
	if reserve.Message != "Account disabled." {
		t.Fatalf("unexpected denial message: %q", reserve.Message)
	}

	if _, errClaim := engine.ClaimDailyCredits(context.Background(), user.ID); !errors.Is(errClaim, ErrUserDisabled) {
		t.Fatalf("expected ErrUserDisabled from claim, got %v", errClaim)
	}

	decision, errCheck := engine.CheckFeature(context.Background(), user.ID, models.FeatureDailyGenerations)
	if errCheck != nil {
		t.Fatalf("CheckFeature: %v", errCheck)
	}
	if decision.Allowed || decision.Message != "Account disabled." {
		t.Fatalf("unexpected feature decision for disabled user: %+v", decision)
	}
}

func TestPeekDailyCredits_MissingUserReportsFreeDefaults(t *testing.T) {
	conn := openTestDB(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine := newTestEngine(conn, now)

	peek, errPeek := engine.PeekDailyCredits(context.Background(), 424242)
	if errPeek != nil {
		t.Fatalf("PeekDailyCredits: %v", errPeek)
	}
	if peek.HasClaimed || peek.Unlimited {
		t.Fatalf("expected unclaimed FREE state, got %+v", peek)
	}
	if peek.AvailableCredits != 3 {
		t.Fatalf("expected FREE daily allowance, got %d", peek.AvailableCredits)
	}

	if _, errClaim := engine.ClaimDailyCredits(context.Background(), 424242); !errors.Is(errClaim, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound from claim, got %v", errClaim)
	}
}
