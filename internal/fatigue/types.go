package fatigue

import "time"

// Thresholds holds the process-wide frequency limits. Read-only after
// construction.
type Thresholds struct {
	DailyLimit              int `json:"daily_limit" yaml:"daily_limit"`
	WeeklyLimit             int `json:"weekly_limit" yaml:"weekly_limit"`
	WarningThresholdPercent int `json:"warning_threshold_percent" yaml:"warning_threshold_percent"`
}

// DefaultThresholds returns the stock limits: 3 sends per day, 10 per week,
// warnings at 80% of a limit.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DailyLimit:              3,
		WeeklyLimit:             10,
		WarningThresholdPercent: 80,
	}
}

// SendFrequencyRecord tracks one subscriber's position inside the current
// rolling windows. FatigueScore is always derived from the counters and the
// configured limits, never set directly.
type SendFrequencyRecord struct {
	SubscriberID string    `json:"subscriber_id"`
	Email        string    `json:"email"`
	DailyCount   int       `json:"daily_count"`
	WeeklyCount  int       `json:"weekly_count"`
	LastSentAt   time.Time `json:"last_sent_at"`
	FatigueScore int       `json:"fatigue_score"`
	Segment      string    `json:"segment,omitempty"`
	Cohort       string    `json:"cohort,omitempty"`
}

// AggregateStats accumulates send volume for one segment or cohort inside
// the current windows. The subscriber set is the denominator for the
// average-per-subscriber rates.
type AggregateStats struct {
	Name        string
	DailySends  int
	WeeklySends int
	Subscribers map[string]struct{}

	dayBucket  string
	weekBucket string
}

// Decision is the result of evaluating a subscriber against the thresholds.
// Suppressed reports that a limit was hit while enforcement is switched off,
// so callers can log what would have happened.
type Decision struct {
	Blocked    bool   `json:"blocked"`
	Reason     string `json:"reason,omitempty"`
	Suppressed bool   `json:"guardrails_suppressed,omitempty"`
}

// Subscriber fatigue statuses, from least to most severe.
const (
	StatusWarning  = "warning"  // fatigue score >= 60
	StatusCritical = "critical" // fatigue score >= 80
	StatusBlocked  = "blocked"  // a hard limit is reached
)

// TiredSubscriber is one entry in the tired list.
type TiredSubscriber struct {
	SubscriberID string `json:"subscriber_id"`
	Email        string `json:"email"`
	DailyCount   int    `json:"daily_count"`
	WeeklyCount  int    `json:"weekly_count"`
	FatigueScore int    `json:"fatigue_score"`
	Status       string `json:"status"`
}

// Alert severities, ordered blocked < critical < warning for reporting.
const (
	SeverityBlocked  = "blocked"
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

var severityRank = map[string]int{
	SeverityBlocked:  0,
	SeverityCritical: 1,
	SeverityWarning:  2,
}

// Alert types.
const (
	AlertIndividual = "individual"
	AlertSegment    = "segment"
	AlertCohort     = "cohort"
)

// FatigueAlert is a point-in-time projection over the guardrail state. It is
// recomputed on every query and never stored.
type FatigueAlert struct {
	Type           string  `json:"type"`
	Severity       string  `json:"severity"`
	Target         string  `json:"target"`
	Current        float64 `json:"current"`
	Limit          int     `json:"limit"`
	Affected       int     `json:"affected_subscribers"`
	Recommendation string  `json:"recommendation"`
}

// AggregateRate is one row of the top-segments/top-cohorts leaderboards.
type AggregateRate struct {
	Name          string  `json:"name"`
	AvgWeeklyRate float64 `json:"avg_weekly_rate"`
	Subscribers   int     `json:"subscribers"`
}

// DashboardStats is the guardrail summary consumed by dashboards.
type DashboardStats struct {
	TotalSubscribers  int             `json:"total_subscribers"`
	TiredCount        int             `json:"tired_count"`
	BlockedToday      int             `json:"blocked_today"`
	WarningAlerts     int             `json:"warning_alerts"`
	CriticalAlerts    int             `json:"critical_alerts"`
	AvgFatigueScore   float64         `json:"avg_fatigue_score"`
	TopSegments       []AggregateRate `json:"top_segments"`
	TopCohorts        []AggregateRate `json:"top_cohorts"`
	Recommendations   []string        `json:"recommendations"`
	GuardrailsEnabled bool            `json:"guardrails_enabled"`
}
