package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cardforge/cardforge/internal/models"
	internalsettings "github.com/cardforge/cardforge/internal/settings"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Migrate runs schema migrations and seeds baseline rows.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.Plan{},
		&models.PlanLimit{},
		&models.User{},
		&models.DailyUsage{},
		&models.BonusCredit{},
		&models.GenerationTask{},
		&models.Setting{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errSeed := ensureDefaultPlans(conn); errSeed != nil {
		return errSeed
	}
	if errSeed := ensureDefaultPlanLimits(conn); errSeed != nil {
		return errSeed
	}
	if errSeed := ensureSiteNameSetting(conn); errSeed != nil {
		return errSeed
	}
	if errSeed := ensureIntSetting(conn, internalsettings.WelcomeCreditsKey, internalsettings.DefaultWelcomeCredits); errSeed != nil {
		return errSeed
	}
	if errSeed := ensureIntSetting(conn, internalsettings.DailyResetHourKey, internalsettings.DefaultDailyResetHour); errSeed != nil {
		return errSeed
	}
	if errSeed := ensureIntSetting(conn, internalsettings.RateLimitKey, internalsettings.DefaultRateLimit); errSeed != nil {
		return errSeed
	}
	return nil
}

// defaultPlans seed the three supported tiers.
var defaultPlans = []models.Plan{
	{Tier: models.PlanTierFree, Name: "Free", MonthPrice: 0, SortOrder: 0},
	{Tier: models.PlanTierBasic, Name: "Basic", MonthPrice: 4.99, SortOrder: 1},
	{Tier: models.PlanTierPremium, Name: "Premium", MonthPrice: 9.99, SortOrder: 2},
}

// defaultPlanLimits seed feature limits per tier. PREMIUM carries no daily or
// monthly rows because the entitlement engine treats the tier as unlimited.
var defaultPlanLimits = []models.PlanLimit{
	{PlanTier: models.PlanTierFree, FeatureKey: models.FeatureDailyGenerations, LimitValue: 3, LimitType: models.LimitTypeDaily},
	{PlanTier: models.PlanTierFree, FeatureKey: models.FeatureMonthlyGenerations, LimitValue: 30, LimitType: models.LimitTypeMonthly},
	{PlanTier: models.PlanTierBasic, FeatureKey: models.FeatureDailyGenerations, LimitValue: 20, LimitType: models.LimitTypeDaily},
	{PlanTier: models.PlanTierBasic, FeatureKey: models.FeatureMonthlyGenerations, LimitValue: 300, LimitType: models.LimitTypeMonthly},
	{PlanTier: models.PlanTierBasic, FeatureKey: models.FeaturePriorityRendering, LimitValue: 1, LimitType: models.LimitTypeBoolean},
	{PlanTier: models.PlanTierPremium, FeatureKey: models.FeaturePriorityRendering, LimitValue: 1, LimitType: models.LimitTypeBoolean},
}

func ensureDefaultPlans(conn *gorm.DB) error {
	for _, plan := range defaultPlans {
		var existing models.Plan
		errFind := conn.Where("tier = ?", plan.Tier).First(&existing).Error
		if errFind == nil {
			continue
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return fmt.Errorf("db: query plan %s: %w", plan.Tier, errFind)
		}
		now := time.Now().UTC()
		plan.IsEnabled = true
		plan.CreatedAt = now
		plan.UpdatedAt = now
		if errCreate := conn.Create(&plan).Error; errCreate != nil {
			return fmt.Errorf("db: create plan %s: %w", plan.Tier, errCreate)
		}
	}
	return nil
}

func ensureDefaultPlanLimits(conn *gorm.DB) error {
	for _, limit := range defaultPlanLimits {
		var existing models.PlanLimit
		errFind := conn.Where("plan_tier = ? AND feature_key = ?", limit.PlanTier, limit.FeatureKey).First(&existing).Error
		if errFind == nil {
			continue
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return fmt.Errorf("db: query plan limit %s/%s: %w", limit.PlanTier, limit.FeatureKey, errFind)
		}
		now := time.Now().UTC()
		limit.CreatedAt = now
		limit.UpdatedAt = now
		if errCreate := conn.Create(&limit).Error; errCreate != nil {
			return fmt.Errorf("db: create plan limit %s/%s: %w", limit.PlanTier, limit.FeatureKey, errCreate)
		}
	}
	return nil
}

func ensureSiteNameSetting(conn *gorm.DB) error {
	payload, errMarshal := json.Marshal(internalsettings.DefaultSiteName)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", internalsettings.SiteNameKey, errMarshal)
	}
	return ensureRawSetting(conn, internalsettings.SiteNameKey, datatypes.JSON(payload))
}

func ensureIntSetting(conn *gorm.DB, key string, value int) error {
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	return ensureRawSetting(conn, key, datatypes.JSON(payload))
}

func ensureRawSetting(conn *gorm.DB, key string, rawValue datatypes.JSON) error {
	var existing models.Setting
	if errFind := conn.Where("key = ?", key).First(&existing).Error; errFind == nil {
		trimmed := strings.TrimSpace(string(existing.Value))
		if len(existing.Value) == 0 || trimmed == "" || trimmed == "null" {
			if errUpdate := conn.Model(&existing).Updates(map[string]any{
				"value":      rawValue,
				"updated_at": time.Now().UTC(),
			}).Error; errUpdate != nil {
				return fmt.Errorf("db: update %s setting: %w", key, errUpdate)
			}
		}
		return nil
	} else if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: query %s setting: %w", key, errFind)
	}

	now := time.Now().UTC()
	setting := models.Setting{
		Key:       key,
		Value:     rawValue,
		UpdatedAt: now,
	}
	if errCreate := conn.Create(&setting).Error; errCreate != nil {
		return fmt.Errorf("db: create %s setting: %w", key, errCreate)
	}
	return nil
}
