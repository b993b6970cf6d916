package orchestrator

// Autonomy thresholds, in cents and percent.
const (
	fullAutonomyMaxCost    = 100
	fullAutonomyMinQuality = 80
	supervisedMaxCost      = 1000
	supervisedMinQuality   = 70
)

// ClassifyAutonomy maps a selection and its violations to an oversight
// mode. The first matching rung wins:
//
//	full:       cost < 100, no violations, quality > 80
//	supervised: cost < 1000, no critical violations, quality > 70
//	otherwise approval_required
func ClassifyAutonomy(estimatedCost int64, violations []PolicyViolation, expectedQuality int) AutonomyLevel {
	if estimatedCost < fullAutonomyMaxCost &&
		len(violations) == 0 &&
		expectedQuality > fullAutonomyMinQuality {
		return AutonomyFull
	}

	if estimatedCost < supervisedMaxCost &&
		!hasCriticalViolation(violations) &&
		expectedQuality > supervisedMinQuality {
		return AutonomySupervised
	}

	return AutonomyApprovalRequired
}
