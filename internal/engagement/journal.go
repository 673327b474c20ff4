package engagement

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailpulse/internal/pkg/logger"
)

// OpenRecord is the journal row for one beacon hit.
type OpenRecord struct {
	TrackingID   string
	EmailID      string
	SubscriberID string
	CampaignID   string
	Device       string
	Location     string
	UserAgent    string
	ClientIP     string
	OpenedAt     time.Time
}

// Journal appends open events to Postgres for offline analysis. It is
// strictly write-behind: failures are logged and never reach the beacon
// path.
type Journal struct {
	db *sql.DB
}

// NewJournal creates a journal over an open database handle.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// AppendOpen writes the record in the background with a short timeout.
func (j *Journal) AppendOpen(rec OpenRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := j.appendOpen(ctx, rec); err != nil {
			logger.Error("journal open event", "tracking_id", rec.TrackingID, "error", err.Error())
		}
	}()
}

func (j *Journal) appendOpen(ctx context.Context, rec OpenRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO engagement_open_events (id, tracking_id, email_id, subscriber_id, campaign_id, device_type, location, user_agent, ip_address, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, uuid.New(), rec.TrackingID, rec.EmailID, rec.SubscriberID, nullable(rec.CampaignID),
		nullable(rec.Device), nullable(rec.Location), nullable(rec.UserAgent), nullable(rec.ClientIP), rec.OpenedAt)
	return err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
