package engagement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailpulse/internal/pkg/logger"
)

// directCampaign is the attribution placeholder hashed into tokens for
// sends that belong to no campaign.
const directCampaign = "direct"

// Tracker mints per-send beacon tokens and rolls beacon hits into
// per-campaign and per-subscriber engagement metrics. All state is in
// memory behind a single mutex; the optional journal only appends copies.
type Tracker struct {
	mu     sync.Mutex
	events map[string]*OpenEvent // by tracking id

	subscriberEvents map[string][]*OpenEvent
	campaignEvents   map[string][]*OpenEvent
	subscriberOpens  map[string]map[string]struct{} // subscriber -> email ids opened
	campaignOpens    map[string]map[string]struct{} // campaign -> subscriber ids opened

	campaignSends map[string]int
	totalSends    int
	openLog       []time.Time // recent hit timestamps, pruned past 24h

	trackingEnabled  bool
	privacyCompliant bool

	geo     Geolocator
	journal *Journal
	now     func() time.Time
}

// NewTracker creates a tracker with tracking enabled and privacy-compliant
// coarse location resolution on.
func NewTracker() *Tracker {
	return &Tracker{
		events:           make(map[string]*OpenEvent),
		subscriberEvents: make(map[string][]*OpenEvent),
		campaignEvents:   make(map[string][]*OpenEvent),
		subscriberOpens:  make(map[string]map[string]struct{}),
		campaignOpens:    make(map[string]map[string]struct{}),
		campaignSends:    make(map[string]int),
		trackingEnabled:  true,
		privacyCompliant: true,
		now:              time.Now,
	}
}

// SetGeolocator installs the coarse location collaborator. A nil geolocator
// simply skips location resolution.
func (t *Tracker) SetGeolocator(g Geolocator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.geo = g
}

// SetJournal installs the optional open-event journal.
func (t *Tracker) SetJournal(j *Journal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.journal = j
}

// SetTrackingEnabled switches token minting on or off. While off, PixelTag
// returns an empty string and mints nothing.
func (t *Tracker) SetTrackingEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trackingEnabled = enabled
}

// TrackingEnabled reports whether new sends are instrumented.
func (t *Tracker) TrackingEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trackingEnabled
}

// SetPrivacyCompliant toggles coarse location resolution. When off, the IP
// is ignored entirely.
func (t *Tracker) SetPrivacyCompliant(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.privacyCompliant = enabled
}

// PrivacyCompliant reports whether coarse location resolution is on.
func (t *Tracker) PrivacyCompliant() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.privacyCompliant
}

// Mint derives an unguessable tracking id for one send and registers the
// event. Each call is a new logical send even for repeated inputs.
func (t *Tracker) Mint(emailID, subscriberID, campaignID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mintLocked(emailID, subscriberID, campaignID)
}

func (t *Tracker) mintLocked(emailID, subscriberID, campaignID string) string {
	now := t.now()

	campaign := campaignID
	if campaign == "" {
		campaign = directCampaign
	}
	seed := fmt.Sprintf("%s|%s|%s|%s|%d", emailID, subscriberID, campaign, uuid.NewString(), now.UnixNano())
	sum := sha256.Sum256([]byte(seed))
	trackingID := hex.EncodeToString(sum[:])[:16]

	ev := &OpenEvent{
		TrackingID:   trackingID,
		EmailID:      emailID,
		SubscriberID: subscriberID,
		CampaignID:   campaignID,
		CreatedAt:    now,
		Devices:      make(map[string]bool),
		Locations:    make(map[string]bool),
	}
	t.events[trackingID] = ev
	t.subscriberEvents[subscriberID] = append(t.subscriberEvents[subscriberID], ev)
	if campaignID != "" {
		t.campaignEvents[campaignID] = append(t.campaignEvents[campaignID], ev)
		t.campaignSends[campaignID]++
	}
	t.totalSends++

	return trackingID
}

// PixelURL composes the beacon URL for a tracking id.
func PixelURL(trackingID, baseURL string) string {
	return fmt.Sprintf("%s/track/open/%s.gif", strings.TrimRight(baseURL, "/"), trackingID)
}

// PixelTag mints a token and returns the invisible image tag to embed in
// outgoing HTML. Returns "" without minting when tracking is disabled.
func (t *Tracker) PixelTag(emailID, subscriberID, campaignID, baseURL string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.trackingEnabled {
		return ""
	}
	trackingID := t.mintLocked(emailID, subscriberID, campaignID)
	return fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none" />`, PixelURL(trackingID, baseURL))
}

// InjectPixel embeds the beacon tag just before </body>. HTML without a
// closing body tag is returned unchanged, as is everything while tracking
// is disabled.
func (t *Tracker) InjectPixel(html, emailID, subscriberID, campaignID, baseURL string) string {
	tag := t.PixelTag(emailID, subscriberID, campaignID, baseURL)
	if tag == "" {
		return html
	}
	return strings.Replace(html, "</body>", tag+"</body>", 1)
}

// RecordOpen applies one beacon hit. Unknown tokens return false and mutate
// nothing; the HTTP layer serves the pixel either way so token validity is
// not observable.
func (t *Tracker) RecordOpen(ctx context.Context, trackingID, userAgent, clientIP string) bool {
	t.mu.Lock()

	ev, ok := t.events[trackingID]
	if !ok {
		t.mu.Unlock()
		return false
	}

	now := t.now()
	ev.OpenCount++
	if ev.FirstOpenedAt.IsZero() {
		ev.FirstOpenedAt = now
	}
	ev.LastOpenedAt = now

	var device string
	if userAgent != "" {
		device = DetectDevice(userAgent)
		ev.Devices[device] = true
	}

	if t.subscriberOpens[ev.SubscriberID] == nil {
		t.subscriberOpens[ev.SubscriberID] = make(map[string]struct{})
	}
	t.subscriberOpens[ev.SubscriberID][ev.EmailID] = struct{}{}
	if ev.CampaignID != "" {
		if t.campaignOpens[ev.CampaignID] == nil {
			t.campaignOpens[ev.CampaignID] = make(map[string]struct{})
		}
		t.campaignOpens[ev.CampaignID][ev.SubscriberID] = struct{}{}
	}

	t.openLog = append(t.openLog, now)
	t.pruneOpenLog(now)

	resolveLocation := t.privacyCompliant && clientIP != "" && t.geo != nil
	geo := t.geo
	journal := t.journal
	t.mu.Unlock()

	var location string
	if resolveLocation {
		loc, err := geo.Locate(ctx, clientIP)
		if err != nil {
			logger.Debug("geolocation lookup failed", "error", err.Error())
		} else if loc != "" {
			location = loc
			t.mu.Lock()
			ev.Locations[loc] = true
			t.mu.Unlock()
		}
	}

	if journal != nil {
		journal.AppendOpen(OpenRecord{
			TrackingID:   trackingID,
			EmailID:      ev.EmailID,
			SubscriberID: ev.SubscriberID,
			CampaignID:   ev.CampaignID,
			Device:       device,
			Location:     location,
			UserAgent:    userAgent,
			ClientIP:     clientIP,
			OpenedAt:     now,
		})
	}

	return true
}

func (t *Tracker) pruneOpenLog(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	i := 0
	for ; i < len(t.openLog); i++ {
		if t.openLog[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		t.openLog = append(t.openLog[:0], t.openLog[i:]...)
	}
}

// legacyAssumedAudience is the historical fixed denominator used before
// tracked-send counts existed. It only applies when a campaign has opens
// but no recorded sends, e.g. state restored from an older journal.
const legacyAssumedAudience = 1000

// CampaignStats summarizes engagement for a campaign. Unknown campaigns
// yield zeroed stats.
func (t *Tracker) CampaignStats(campaignID string) CampaignStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := CampaignStats{
		CampaignID:      campaignID,
		TrackedSends:    t.campaignSends[campaignID],
		UniqueOpens:     len(t.campaignOpens[campaignID]),
		AvgOpensPerUser: "0",
		Devices:         make(map[string]int),
	}

	firstOpensByHour := make(map[int]int)
	for _, ev := range t.campaignEvents[campaignID] {
		stats.TotalOpens += ev.OpenCount
		if !ev.opened() {
			continue
		}
		for device := range ev.Devices {
			stats.Devices[device]++
		}
		firstOpensByHour[ev.FirstOpenedAt.Hour()]++
	}

	denominator := stats.TrackedSends
	if denominator == 0 && stats.UniqueOpens > 0 {
		denominator = legacyAssumedAudience
	}
	if denominator > 0 {
		stats.OpenRate = float64(stats.UniqueOpens) / float64(denominator) * 100
	}
	if stats.UniqueOpens > 0 {
		stats.AvgOpensPerUser = fmt.Sprintf("%.1f", float64(stats.TotalOpens)/float64(stats.UniqueOpens))
	}

	best := -1
	for hour, n := range firstOpensByHour {
		if n > best || (n == best && hour < stats.PeakOpenHour) {
			best = n
			stats.PeakOpenHour = hour
		}
	}

	return stats
}

// SubscriberEngagement summarizes one subscriber's open behavior. Unknown
// subscribers yield zeroed stats.
//
// OpensLast30Days is an approximation: events keep only a count plus
// first/last open times, so an event whose last open is within 30 days
// contributes its whole OpenCount, including opens that happened earlier.
func (t *Tracker) SubscriberEngagement(subscriberID string) SubscriberEngagement {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	eng := SubscriberEngagement{
		SubscriberID:  subscriberID,
		EmailsOpened:  len(t.subscriberOpens[subscriberID]),
		AvgTimeToOpen: "never",
	}

	events := t.subscriberEvents[subscriberID]
	deviceCounts := make(map[string]int)
	var timeToOpenSum time.Duration
	var openedCount int

	for _, ev := range events {
		if !ev.opened() {
			continue
		}
		openedCount++
		timeToOpenSum += ev.FirstOpenedAt.Sub(ev.CreatedAt)
		if ev.LastOpenedAt.After(now.Add(-30 * 24 * time.Hour)) {
			eng.OpensLast30Days += ev.OpenCount
		}
		for device := range ev.Devices {
			deviceCounts[device]++
		}
	}

	if openedCount > 0 {
		eng.AvgTimeToOpen = formatDuration(timeToOpenSum / time.Duration(openedCount))
	}
	eng.TopDevice = topDevice(deviceCounts)
	eng.EngagementScore = scoreEvents(events, now)

	return eng
}

// EngagementScore computes the 0-100 composite of open volume, repeat-open
// tendency and recency for a set of events.
func (t *Tracker) EngagementScore(events []*OpenEvent) int {
	t.mu.Lock()
	now := t.now()
	t.mu.Unlock()
	return scoreEvents(events, now)
}

// scoreEvents weights three capped factors: up to 40 points for volume
// (saturating at 10 opened events), up to 30 for the fraction of events
// opened more than once, and a flat 30 when anything was opened in the
// last 7 days.
func scoreEvents(events []*OpenEvent, now time.Time) int {
	var opened, repeat int
	var recent bool
	weekAgo := now.Add(-7 * 24 * time.Hour)

	for _, ev := range events {
		if !ev.opened() {
			continue
		}
		opened++
		if ev.OpenCount > 1 {
			repeat++
		}
		if ev.LastOpenedAt.After(weekAgo) {
			recent = true
		}
	}
	if opened == 0 {
		return 0
	}

	score := 40 * math.Min(float64(opened)/10, 1)
	score += 30 * float64(repeat) / float64(opened)
	if recent {
		score += 30
	}

	n := int(math.Round(score))
	if n > 100 {
		n = 100
	}
	if n < 0 {
		n = 0
	}
	return n
}

// DashboardStats assembles the tracker summary for dashboards.
func (t *Tracker) DashboardStats() DashboardStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneOpenLog(t.now())

	stats := DashboardStats{
		TotalTracked: t.totalSends,
		OpensLast24h: len(t.openLog),
		TopCampaigns: make([]CampaignOpenCount, 0, len(t.campaignOpens)),
	}

	openers := make(map[string]struct{})
	for _, ev := range t.events {
		stats.TotalOpens += ev.OpenCount
		if ev.opened() {
			openers[ev.SubscriberID] = struct{}{}
		}
	}
	stats.UniqueOpeners = len(openers)
	if stats.TotalTracked > 0 {
		stats.OpenRate = float64(stats.UniqueOpeners) / float64(stats.TotalTracked) * 100
	}

	for campaignID, subs := range t.campaignOpens {
		stats.TopCampaigns = append(stats.TopCampaigns, CampaignOpenCount{
			CampaignID:  campaignID,
			UniqueOpens: len(subs),
		})
	}
	sort.Slice(stats.TopCampaigns, func(i, j int) bool {
		if stats.TopCampaigns[i].UniqueOpens != stats.TopCampaigns[j].UniqueOpens {
			return stats.TopCampaigns[i].UniqueOpens > stats.TopCampaigns[j].UniqueOpens
		}
		return stats.TopCampaigns[i].CampaignID < stats.TopCampaigns[j].CampaignID
	})
	if len(stats.TopCampaigns) > 3 {
		stats.TopCampaigns = stats.TopCampaigns[:3]
	}

	return stats
}

// DetectDevice classifies a user agent into mobile, tablet or desktop.
func DetectDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return DeviceMobile
	}
	if strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet") {
		return DeviceTablet
	}
	return DeviceDesktop
}

func topDevice(counts map[string]int) string {
	var top string
	best := 0
	for device, n := range counts {
		if n > best || (n == best && device < top) {
			top = device
			best = n
		}
	}
	return top
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Hour:
		minutes := int(math.Round(d.Minutes()))
		if minutes <= 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	case d < 24*time.Hour:
		hours := int(math.Round(d.Hours()))
		if hours <= 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		days := int(math.Round(d.Hours() / 24))
		if days <= 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}
