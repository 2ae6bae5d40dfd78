package models

// Feature keys understood by the entitlement engine.
const (
	// FeatureDailyGenerations caps card generations per day.
	FeatureDailyGenerations = "daily_generations"
	// FeatureMonthlyGenerations caps card generations per calendar month.
	FeatureMonthlyGenerations = "monthly_generations"
	// FeaturePriorityRendering toggles the priority flag sent to the renderer.
	FeaturePriorityRendering = "priority_rendering"
)
