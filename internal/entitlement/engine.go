package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cardforge/cardforge/internal/models"
	internalsettings "github.com/cardforge/cardforge/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUserNotFound indicates the referenced user row does not exist.
var ErrUserNotFound = errors.New("entitlement: user not found")

// ErrUserDisabled indicates the user account has been deactivated.
var ErrUserDisabled = errors.New("entitlement: user disabled")

// ClaimStatus describes the outcome of a daily credit claim.
type ClaimStatus string

// ClaimStatus constants define claim outcomes.
const (
	// ClaimStatusClaimed means a fresh usage row was created for today.
	ClaimStatusClaimed ClaimStatus = "claimed"
	// ClaimStatusAlreadyClaimed means today's usage row already existed.
	ClaimStatusAlreadyClaimed ClaimStatus = "already_claimed"
	// ClaimStatusFirstDay means the welcome allowance applies without a claim.
	ClaimStatusFirstDay ClaimStatus = "first_day"
	// ClaimStatusUnlimited means the user's plan needs no claim.
	ClaimStatusUnlimited ClaimStatus = "unlimited"
)

// ClaimResult reports the entitlement state after a claim or peek.
type ClaimResult struct {
	Status           ClaimStatus // Claim outcome.
	IsFirstDay       bool        // Account was created today.
	HasClaimed       bool        // Today's allowance is active.
	AvailableCredits int         // Remaining daily allowance.
	UsedCredits      int         // Jobs already started today.
	Unlimited        bool        // Plan carries no daily cap.
}

// FeatureDecision reports whether a feature may be used and at what headroom.
type FeatureDecision struct {
	Allowed   bool   // Whether use is permitted now.
	Unlimited bool   // Plan override, limits do not apply.
	Limit     int    // Configured limit, 0 when absent or unlimited.
	Current   int    // Usage counted against the limit.
	Remaining int    // Limit minus current, floored at zero.
	Message   string // Human-readable explanation.
}

// ReserveSource identifies which allowance admitted a generation.
type ReserveSource string

// ReserveSource constants define admission sources.
const (
	// ReserveSourceDailyQuota admitted against the claimed daily allowance.
	ReserveSourceDailyQuota ReserveSource = "daily_quota"
	// ReserveSourceWelcome admitted against the first-day welcome allowance.
	ReserveSourceWelcome ReserveSource = "welcome"
	// ReserveSourceBonusCredit admitted by consuming a bonus credit.
	ReserveSourceBonusCredit ReserveSource = "bonus_credit"
	// ReserveSourceUnlimited admitted under an unlimited plan.
	ReserveSourceUnlimited ReserveSource = "unlimited"
)

// ReserveResult reports the outcome of a generation admission attempt.
type ReserveResult struct {
	Admitted bool          // Whether the job may start.
	Source   ReserveSource // Which allowance paid for it.
	Message  string        // Denial explanation when not admitted.
}

// Engine decides whether a user may start a generation and accounts for it.
//
// All counter movement goes through atomic conditional writes at the store so
// concurrent requests cannot admit more jobs than the limit allows.
type Engine struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db, nowFn: time.Now}
}

func (e *Engine) now() time.Time {
	if e.nowFn != nil {
		return e.nowFn().UTC()
	}
	return time.Now().UTC()
}

func resetHour() int {
	return internalsettings.IntValue(internalsettings.DailyResetHourKey, internalsettings.DefaultDailyResetHour)
}

func welcomeCredits() int {
	return internalsettings.IntValue(internalsettings.WelcomeCreditsKey, internalsettings.DefaultWelcomeCredits)
}

// ResolveTier returns the user's effective plan tier. A missing user row or a
// lapsed subscription degrades to FREE rather than failing: entitlement checks
// fail closed toward the most restrictive tier.
func (e *Engine) ResolveTier(ctx context.Context, userID uint64) (models.PlanTier, *models.User, error) {
	if userID == 0 {
		return models.PlanTierFree, nil, nil
	}
	var user models.User
	errFind := e.db.WithContext(ctx).Preload("Plan").First(&user, userID).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.PlanTierFree, nil, nil
		}
		return models.PlanTierFree, nil, fmt.Errorf("entitlement: load user: %w", errFind)
	}
	if user.Plan == nil || !user.Plan.IsEnabled {
		return models.PlanTierFree, &user, nil
	}
	tier := user.Plan.Tier
	if tier == models.PlanTierFree {
		return models.PlanTierFree, &user, nil
	}
	if !subscriptionActive(&user, e.now()) {
		return models.PlanTierFree, &user, nil
	}
	return tier, &user, nil
}

func subscriptionActive(user *models.User, now time.Time) bool {
	if user.SubscriptionStatus != "active" {
		return false
	}
	if user.SubscriptionEndsAt != nil && user.SubscriptionEndsAt.Before(now) {
		return false
	}
	return true
}

// CheckFeature answers whether the user may use a feature right now. Read-only.
func (e *Engine) CheckFeature(ctx context.Context, userID uint64, featureKey string) (FeatureDecision, error) {
	if userID == 0 {
		return FeatureDecision{Message: "Unauthorized"}, nil
	}

	tier, user, errResolve := e.ResolveTier(ctx, userID)
	if errResolve != nil {
		return FeatureDecision{}, errResolve
	}
	if user != nil && !user.Active {
		return FeatureDecision{Message: "Account disabled."}, nil
	}

	var limit models.PlanLimit
	errFind := e.db.WithContext(ctx).
		Where("plan_tier = ? AND feature_key = ?", tier, featureKey).
		First(&limit).Error
	if errFind != nil && !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return FeatureDecision{}, fmt.Errorf("entitlement: load plan limit: %w", errFind)
	}
	limitMissing := errors.Is(errFind, gorm.ErrRecordNotFound)

	if tier == models.PlanTierPremium && (limitMissing || limit.LimitType != models.LimitTypeBoolean) {
		return FeatureDecision{Allowed: true, Unlimited: true, Message: "Unlimited on your plan."}, nil
	}
	if limitMissing {
		return FeatureDecision{Message: "Feature not available in your plan."}, nil
	}

	switch limit.LimitType {
	case models.LimitTypeBoolean:
		if limit.LimitValue > 0 {
			return FeatureDecision{Allowed: true, Limit: limit.LimitValue}, nil
		}
		return FeatureDecision{Limit: limit.LimitValue, Message: "Feature not available in your plan."}, nil
	case models.LimitTypeDaily:
		current, errCount := e.dailyCount(ctx, userID)
		if errCount != nil {
			return FeatureDecision{}, errCount
		}
		return buildWindowDecision(limit.LimitValue, current, "Daily limit reached."), nil
	case models.LimitTypeMonthly:
		current, errSum := e.monthlyCount(ctx, userID)
		if errSum != nil {
			return FeatureDecision{}, errSum
		}
		return buildWindowDecision(limit.LimitValue, current, "Monthly limit reached."), nil
	default:
		return FeatureDecision{Message: "Feature not available in your plan."}, nil
	}
}

func buildWindowDecision(limit, current int, deniedMessage string) FeatureDecision {
	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	decision := FeatureDecision{
		Allowed:   remaining > 0,
		Limit:     limit,
		Current:   current,
		Remaining: remaining,
	}
	if !decision.Allowed {
		decision.Message = deniedMessage
	}
	return decision
}

func (e *Engine) dailyCount(ctx context.Context, userID uint64) (int, error) {
	day := DayStart(e.now(), resetHour())
	var row models.DailyUsage
	errFind := e.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		First(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("entitlement: load daily usage: %w", errFind)
	}
	return row.Count, nil
}

func (e *Engine) monthlyCount(ctx context.Context, userID uint64) (int, error) {
	start := MonthStart(e.now(), resetHour())
	var total int64
	if errSum := e.db.WithContext(ctx).
		Model(&models.DailyUsage{}).
		Where("user_id = ? AND day >= ?", userID, start).
		Select("COALESCE(SUM(count), 0)").
		Scan(&total).Error; errSum != nil {
		return 0, fmt.Errorf("entitlement: sum monthly usage: %w", errSum)
	}
	return int(total), nil
}

// AvailableBonusCredits sums unexpired, unused bonus credit amounts. Read-only.
func (e *Engine) AvailableBonusCredits(ctx context.Context, userID uint64) (int, error) {
	if userID == 0 {
		return 0, nil
	}
	var total int64
	if errSum := e.db.WithContext(ctx).
		Model(&models.BonusCredit{}).
		Where("user_id = ? AND used = ?", userID, false).
		Where("(expires_at IS NULL OR expires_at > ?)", e.now()).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error; errSum != nil {
		return 0, fmt.Errorf("entitlement: sum bonus credits: %w", errSum)
	}
	return int(total), nil
}

// PeekDailyCredits reports the current claim state without mutating anything.
func (e *Engine) PeekDailyCredits(ctx context.Context, userID uint64) (ClaimResult, error) {
	return e.claimState(ctx, userID, false)
}

// ClaimDailyCredits activates today's allowance. The DailyUsage row is the
// claim marker: it is created with a zero count and the same counter is
// incremented as jobs start. First-day users get a welcome allowance without
// a claim, and unlimited plans never claim.
func (e *Engine) ClaimDailyCredits(ctx context.Context, userID uint64) (ClaimResult, error) {
	return e.claimState(ctx, userID, true)
}

func (e *Engine) claimState(ctx context.Context, userID uint64, mutate bool) (ClaimResult, error) {
	if userID == 0 {
		return ClaimResult{}, ErrUserNotFound
	}

	tier, user, errResolve := e.ResolveTier(ctx, userID)
	if errResolve != nil {
		return ClaimResult{}, errResolve
	}
	if user == nil {
		// A token can outlive its user row. Peeks degrade to the FREE-tier
		// defaults; a claim still fails because the marker row it would write
		// references the users table.
		if !mutate {
			freeLimit, errLimit := e.planLimitValue(ctx, models.PlanTierFree, models.FeatureDailyGenerations, models.LimitTypeDaily)
			if errLimit != nil {
				return ClaimResult{}, errLimit
			}
			return ClaimResult{AvailableCredits: positive(freeLimit)}, nil
		}
		return ClaimResult{}, ErrUserNotFound
	}
	if !user.Active {
		return ClaimResult{}, ErrUserDisabled
	}

	now := e.now()
	hour := resetHour()

	if tier == models.PlanTierPremium {
		return ClaimResult{Status: ClaimStatusUnlimited, HasClaimed: true, Unlimited: true}, nil
	}

	used, errCount := e.dailyCount(ctx, userID)
	if errCount != nil {
		return ClaimResult{}, errCount
	}

	if SameUsageDay(user.CreatedAt, now, hour) {
		welcome := welcomeCredits()
		return ClaimResult{
			Status:           ClaimStatusFirstDay,
			IsFirstDay:       true,
			HasClaimed:       true,
			AvailableCredits: positive(welcome - used),
			UsedCredits:      used,
		}, nil
	}

	dailyLimit, errLimit := e.planLimitValue(ctx, tier, models.FeatureDailyGenerations, models.LimitTypeDaily)
	if errLimit != nil {
		return ClaimResult{}, errLimit
	}

	day := DayStart(now, hour)
	claimed := false
	if mutate {
		row := models.DailyUsage{UserID: userID, Day: day, Count: 0, CreatedAt: now, UpdatedAt: now}
		res := e.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return ClaimResult{}, fmt.Errorf("entitlement: claim daily usage: %w", res.Error)
		}
		claimed = res.RowsAffected > 0
	} else {
		var row models.DailyUsage
		errFind := e.db.WithContext(ctx).Where("user_id = ? AND day = ?", userID, day).First(&row).Error
		if errFind != nil && !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return ClaimResult{}, fmt.Errorf("entitlement: load daily usage: %w", errFind)
		}
		if errFind == nil {
			return ClaimResult{
				Status:           ClaimStatusAlreadyClaimed,
				HasClaimed:       true,
				AvailableCredits: positive(dailyLimit - row.Count),
				UsedCredits:      row.Count,
			}, nil
		}
		return ClaimResult{AvailableCredits: positive(dailyLimit)}, nil
	}

	status := ClaimStatusAlreadyClaimed
	if claimed {
		status = ClaimStatusClaimed
		used = 0
	}
	return ClaimResult{
		Status:           status,
		HasClaimed:       true,
		AvailableCredits: positive(dailyLimit - used),
		UsedCredits:      used,
	}, nil
}

func positive(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func (e *Engine) planLimitValue(ctx context.Context, tier models.PlanTier, featureKey string, limitType models.LimitType) (int, error) {
	var limit models.PlanLimit
	errFind := e.db.WithContext(ctx).
		Where("plan_tier = ? AND feature_key = ? AND limit_type = ?", tier, featureKey, limitType).
		First(&limit).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("entitlement: load plan limit: %w", errFind)
	}
	return limit.LimitValue, nil
}

// ReserveGeneration admits one generation for the user and charges exactly one
// allowance unit for it: the daily counter where headroom exists, a bonus
// credit otherwise. The increment is a conditional write so concurrent
// requests can never push the counter past the limit.
func (e *Engine) ReserveGeneration(ctx context.Context, userID uint64) (ReserveResult, error) {
	if userID == 0 {
		return ReserveResult{Message: "Unauthorized"}, nil
	}

	tier, user, errResolve := e.ResolveTier(ctx, userID)
	if errResolve != nil {
		return ReserveResult{}, errResolve
	}
	if user == nil {
		return ReserveResult{Message: "Unauthorized"}, nil
	}
	if !user.Active {
		return ReserveResult{Message: "Account disabled."}, nil
	}

	now := e.now()
	hour := resetHour()
	day := DayStart(now, hour)

	if tier == models.PlanTierPremium {
		if errTrack := e.trackUnlimitedUsage(ctx, userID, day, now); errTrack != nil {
			return ReserveResult{}, errTrack
		}
		return ReserveResult{Admitted: true, Source: ReserveSourceUnlimited}, nil
	}

	firstDay := SameUsageDay(user.CreatedAt, now, hour)

	dailyLimit, errLimit := e.planLimitValue(ctx, tier, models.FeatureDailyGenerations, models.LimitTypeDaily)
	if errLimit != nil {
		return ReserveResult{}, errLimit
	}
	monthlyLimit, errLimit := e.planLimitValue(ctx, tier, models.FeatureMonthlyGenerations, models.LimitTypeMonthly)
	if errLimit != nil {
		return ReserveResult{}, errLimit
	}

	limit := dailyLimit
	source := ReserveSourceDailyQuota
	if firstDay {
		limit = welcomeCredits()
		source = ReserveSourceWelcome
		// The welcome allowance needs no claim; materialize the counter lazily.
		row := models.DailyUsage{UserID: userID, Day: day, Count: 0, CreatedAt: now, UpdatedAt: now}
		if errEnsure := e.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
			DoNothing: true,
		}).Create(&row).Error; errEnsure != nil {
			return ReserveResult{}, fmt.Errorf("entitlement: ensure daily usage: %w", errEnsure)
		}
	}

	monthlyOpen := true
	if !firstDay && monthlyLimit > 0 {
		monthUsed, errSum := e.monthlyCount(ctx, userID)
		if errSum != nil {
			return ReserveResult{}, errSum
		}
		monthlyOpen = monthUsed < monthlyLimit
	}

	if monthlyOpen && limit > 0 {
		res := e.db.WithContext(ctx).
			Model(&models.DailyUsage{}).
			Where("user_id = ? AND day = ? AND count < ?", userID, day, limit).
			Updates(map[string]any{
				"count":      gorm.Expr("count + 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return ReserveResult{}, fmt.Errorf("entitlement: increment daily usage: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return ReserveResult{Admitted: true, Source: source}, nil
		}
	}

	consumed, errConsume := e.consumeBonusCredit(ctx, userID, now)
	if errConsume != nil {
		return ReserveResult{}, errConsume
	}
	if consumed {
		return ReserveResult{Admitted: true, Source: ReserveSourceBonusCredit}, nil
	}

	if !firstDay {
		hasRow, errRow := e.hasDailyRow(ctx, userID, day)
		if errRow != nil {
			return ReserveResult{}, errRow
		}
		if !hasRow {
			return ReserveResult{Message: "Daily credits not claimed yet."}, nil
		}
	}
	if !monthlyOpen {
		return ReserveResult{Message: "Monthly limit reached."}, nil
	}
	return ReserveResult{Message: "Daily limit reached."}, nil
}

func (e *Engine) hasDailyRow(ctx context.Context, userID uint64, day time.Time) (bool, error) {
	var count int64
	if errCount := e.db.WithContext(ctx).
		Model(&models.DailyUsage{}).
		Where("user_id = ? AND day = ?", userID, day).
		Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("entitlement: check daily usage: %w", errCount)
	}
	return count > 0, nil
}

// trackUnlimitedUsage records usage history for unlimited plans without
// enforcing a cap.
func (e *Engine) trackUnlimitedUsage(ctx context.Context, userID uint64, day, now time.Time) error {
	row := models.DailyUsage{UserID: userID, Day: day, Count: 0, CreatedAt: now, UpdatedAt: now}
	if errEnsure := e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoNothing: true,
	}).Create(&row).Error; errEnsure != nil {
		return fmt.Errorf("entitlement: ensure daily usage: %w", errEnsure)
	}
	if errIncr := e.db.WithContext(ctx).
		Model(&models.DailyUsage{}).
		Where("user_id = ? AND day = ?", userID, day).
		Updates(map[string]any{
			"count":      gorm.Expr("count + 1"),
			"updated_at": now,
		}).Error; errIncr != nil {
		return fmt.Errorf("entitlement: increment daily usage: %w", errIncr)
	}
	return nil
}

// consumeBonusCredit spends one unit from the soonest-expiring open grant.
// The decrement is conditional on the grant still holding balance, so a grant
// can never be double-spent by concurrent requests.
func (e *Engine) consumeBonusCredit(ctx context.Context, userID uint64, now time.Time) (bool, error) {
	var candidates []models.BonusCredit
	if errFind := e.db.WithContext(ctx).
		Where("user_id = ? AND used = ? AND amount > 0", userID, false).
		Where("(expires_at IS NULL OR expires_at > ?)", now).
		Order("expires_at ASC NULLS LAST, id ASC").
		Limit(5).
		Find(&candidates).Error; errFind != nil {
		return false, fmt.Errorf("entitlement: load bonus credits: %w", errFind)
	}

	for _, grant := range candidates {
		res := e.db.WithContext(ctx).
			Model(&models.BonusCredit{}).
			Where("id = ? AND used = ? AND amount > 0", grant.ID, false).
			Updates(map[string]any{
				"amount":     gorm.Expr("amount - 1"),
				"updated_at": now,
			})
		if res.Error != nil {
			return false, fmt.Errorf("entitlement: consume bonus credit: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the race for this grant, try the next candidate.
			continue
		}
		if errMark := e.db.WithContext(ctx).
			Model(&models.BonusCredit{}).
			Where("id = ? AND amount <= 0 AND used = ?", grant.ID, false).
			Updates(map[string]any{
				"used":       true,
				"used_at":    now,
				"updated_at": now,
			}).Error; errMark != nil {
			log.WithError(errMark).WithField("grant_id", grant.ID).Warn("entitlement: failed to flag exhausted bonus credit")
		}
		return true, nil
	}
	return false, nil
}
