package engagement

import "time"

// Device classes produced by user-agent classification.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// OpenEvent tracks one instrumented send and every beacon hit it received.
// FirstOpenedAt is set exactly once, on the first recorded hit; OpenCount
// only ever grows.
type OpenEvent struct {
	TrackingID   string    `json:"tracking_id"`
	EmailID      string    `json:"email_id"`
	SubscriberID string    `json:"subscriber_id"`
	CampaignID   string    `json:"campaign_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	OpenCount     int             `json:"open_count"`
	FirstOpenedAt time.Time       `json:"first_opened_at,omitzero"`
	LastOpenedAt  time.Time       `json:"last_opened_at,omitzero"`
	Devices       map[string]bool `json:"-"`
	Locations     map[string]bool `json:"-"`
}

func (e *OpenEvent) opened() bool { return e.OpenCount > 0 }

// CampaignStats summarizes engagement for one campaign.
type CampaignStats struct {
	CampaignID      string         `json:"campaign_id"`
	TrackedSends    int            `json:"tracked_sends"`
	UniqueOpens     int            `json:"unique_opens"`
	TotalOpens      int            `json:"total_opens"`
	OpenRate        float64        `json:"open_rate"`
	AvgOpensPerUser string         `json:"avg_opens_per_user"`
	Devices         map[string]int `json:"devices"`
	PeakOpenHour    int            `json:"peak_open_hour"`
}

// SubscriberEngagement summarizes one subscriber's open behavior.
type SubscriberEngagement struct {
	SubscriberID    string `json:"subscriber_id"`
	EmailsOpened    int    `json:"emails_opened"`
	OpensLast30Days int    `json:"opens_last_30_days"`
	AvgTimeToOpen   string `json:"avg_time_to_open"`
	TopDevice       string `json:"top_device"`
	EngagementScore int    `json:"engagement_score"`
}

// CampaignOpenCount is one row of the top-campaigns leaderboard.
type CampaignOpenCount struct {
	CampaignID  string `json:"campaign_id"`
	UniqueOpens int    `json:"unique_opens"`
}

// DashboardStats is the tracker summary consumed by dashboards.
type DashboardStats struct {
	TotalTracked  int                 `json:"total_tracked"`
	TotalOpens    int                 `json:"total_opens"`
	UniqueOpeners int                 `json:"unique_openers"`
	OpenRate      float64             `json:"open_rate"`
	OpensLast24h  int                 `json:"opens_last_24h"`
	TopCampaigns  []CampaignOpenCount `json:"top_campaigns"`
}
