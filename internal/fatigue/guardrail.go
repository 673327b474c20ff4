package fatigue

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ignite/mailpulse/internal/pkg/logger"
)

// Guardrail gates sends against per-subscriber and aggregate frequency
// limits and reports fatigue state for dashboards. All state is in memory
// behind a single mutex; the optional WindowStore moves only the rolling
// counters out of process.
type Guardrail struct {
	mu       sync.Mutex
	limits   Thresholds
	enabled  bool
	records  map[string]*SendFrequencyRecord
	segments map[string]*AggregateStats
	cohorts  map[string]*AggregateStats
	windows  WindowStore
	newLock  LockFactory

	now func() time.Time
}

// New creates a guardrail with enforcement enabled and an in-memory window
// store. Zero or negative limits fall back to the defaults.
func New(limits Thresholds) *Guardrail {
	def := DefaultThresholds()
	if limits.DailyLimit <= 0 {
		limits.DailyLimit = def.DailyLimit
	}
	if limits.WeeklyLimit <= 0 {
		limits.WeeklyLimit = def.WeeklyLimit
	}
	if limits.WarningThresholdPercent <= 0 {
		limits.WarningThresholdPercent = def.WarningThresholdPercent
	}
	return &Guardrail{
		limits:   limits,
		enabled:  true,
		records:  make(map[string]*SendFrequencyRecord),
		segments: make(map[string]*AggregateStats),
		cohorts:  make(map[string]*AggregateStats),
		windows:  newMemoryWindows(),
		now:      time.Now,
	}
}

// SetWindowStore swaps the rolling-counter backend. Call before first use.
func (g *Guardrail) SetWindowStore(ws WindowStore) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.windows = ws
}

// Locker serializes one subscriber's decide-then-record sequence across
// processes. Acquire is a non-blocking try.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LockFactory builds a fresh lock for a key.
type LockFactory func(key string) Locker

// SetLockFactory installs cross-process locking for Allow. Only needed when
// several processes share a window store. Call before first use.
func (g *Guardrail) SetLockFactory(f LockFactory) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.newLock = f
}

// Thresholds returns the configured limits.
func (g *Guardrail) Thresholds() Thresholds {
	return g.limits
}

// SetEnabled switches enforcement on or off. When off, Decide never blocks
// but still reports what would have happened.
func (g *Guardrail) SetEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = enabled
}

// Enabled reports whether enforcement is on.
func (g *Guardrail) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// Score derives the 0-100 fatigue score from the window counters. Each
// window contributes up to 50 points, so either dimension alone can drive a
// subscriber to fully fatigued.
func (g *Guardrail) Score(daily, weekly int) int {
	d := float64(daily) / float64(g.limits.DailyLimit)
	w := float64(weekly) / float64(g.limits.WeeklyLimit)
	score := int(math.Round(50*d + 50*w))
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

// RecordSend accounts exactly one send for the subscriber, creating its
// record on first use and updating the segment/cohort aggregates. Callers
// must invoke it once per actual send.
func (g *Guardrail) RecordSend(ctx context.Context, subscriberID, email, segment, cohort string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.recordLocked(ctx, subscriberID, email, segment, cohort)
}

// Decide evaluates the subscriber's counters against the thresholds. An
// unknown subscriber is never blocked.
func (g *Guardrail) Decide(ctx context.Context, subscriberID string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decideLocked(ctx, subscriberID)
}

// Allow runs decide-then-record as a single critical section: if the send is
// permitted it is accounted before the lock is released, so two concurrent
// sends cannot both squeeze through the last slot below a limit. With a lock
// factory installed the section also holds a per-subscriber distributed
// lock, extending the guarantee across processes.
func (g *Guardrail) Allow(ctx context.Context, subscriberID, email, segment, cohort string) (Decision, error) {
	g.mu.Lock()
	newLock := g.newLock
	g.mu.Unlock()

	if newLock != nil {
		lock := newLock("fatigue:allow:" + subscriberID)
		if acquired := tryAcquire(ctx, lock); acquired {
			defer lock.Release(ctx)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	d := g.decideLocked(ctx, subscriberID)
	if d.Blocked {
		return d, nil
	}
	if err := g.recordLocked(ctx, subscriberID, email, segment, cohort); err != nil {
		return d, err
	}
	return d, nil
}

// tryAcquire polls the non-blocking lock briefly. Contention or lock-store
// failures fall through to an unlocked run; sends must not stall on the
// locking layer.
func tryAcquire(ctx context.Context, lock Locker) bool {
	for i := 0; i < 10; i++ {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			logger.Warn("distributed lock acquire failed", "error", err.Error())
			return false
		}
		if ok {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
	return false
}

func (g *Guardrail) decideLocked(ctx context.Context, subscriberID string) Decision {
	daily, weekly, err := g.windows.Counts(ctx, subscriberID, g.now())
	if err != nil {
		// Never block sends on a counter-store failure.
		logger.Warn("fatigue window read failed, allowing send", "subscriber_id", subscriberID, "error", err.Error())
		return Decision{}
	}

	var reason string
	switch {
	case daily >= g.limits.DailyLimit:
		reason = fmt.Sprintf("daily limit reached (%d/%d)", daily, g.limits.DailyLimit)
	case weekly >= g.limits.WeeklyLimit:
		reason = fmt.Sprintf("weekly limit reached (%d/%d)", weekly, g.limits.WeeklyLimit)
	default:
		return Decision{}
	}

	if !g.enabled {
		return Decision{Blocked: false, Reason: reason, Suppressed: true}
	}
	return Decision{Blocked: true, Reason: reason}
}

func (g *Guardrail) recordLocked(ctx context.Context, subscriberID, email, segment, cohort string) error {
	now := g.now()

	daily, weekly, err := g.windows.Incr(ctx, subscriberID, now)
	if err != nil {
		return fmt.Errorf("record send for %s: %w", subscriberID, err)
	}

	rec, ok := g.records[subscriberID]
	if !ok {
		rec = &SendFrequencyRecord{
			SubscriberID: subscriberID,
			Email:        email,
			Segment:      segment,
			Cohort:       cohort,
		}
		g.records[subscriberID] = rec
	}
	rec.DailyCount = daily
	rec.WeeklyCount = weekly
	rec.LastSentAt = now
	rec.FatigueScore = g.Score(daily, weekly)

	g.bumpAggregate(g.segments, rec.Segment, subscriberID, now)
	g.bumpAggregate(g.cohorts, rec.Cohort, subscriberID, now)
	return nil
}

func (g *Guardrail) bumpAggregate(aggs map[string]*AggregateStats, name, subscriberID string, now time.Time) {
	if name == "" {
		return
	}
	agg, ok := aggs[name]
	if !ok {
		agg = &AggregateStats{Name: name, Subscribers: make(map[string]struct{})}
		aggs[name] = agg
	}
	if db := dayBucket(now); agg.dayBucket != db {
		agg.DailySends = 0
		agg.dayBucket = db
	}
	if wb := weekBucket(now); agg.weekBucket != wb {
		agg.WeeklySends = 0
		agg.weekBucket = wb
	}
	agg.DailySends++
	agg.WeeklySends++
	agg.Subscribers[subscriberID] = struct{}{}
}

// aggregate window sums read as zero once their bucket has rolled over.
func (g *Guardrail) aggDaily(agg *AggregateStats, now time.Time) int {
	if agg.dayBucket != dayBucket(now) {
		return 0
	}
	return agg.DailySends
}

func (g *Guardrail) aggWeekly(agg *AggregateStats, now time.Time) int {
	if agg.weekBucket != weekBucket(now) {
		return 0
	}
	return agg.WeeklySends
}

// TiredList returns every subscriber in warning, critical or blocked state,
// sorted by descending fatigue score. A subscriber over a hard limit is
// always tagged blocked regardless of score.
func (g *Guardrail) TiredList(ctx context.Context) []TiredSubscriber {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tiredLocked(ctx)
}

func (g *Guardrail) tiredLocked(ctx context.Context) []TiredSubscriber {
	now := g.now()
	tired := make([]TiredSubscriber, 0)

	for id, rec := range g.records {
		daily, weekly, err := g.windows.Counts(ctx, id, now)
		if err != nil {
			logger.Warn("fatigue window read failed", "subscriber_id", id, "error", err.Error())
			continue
		}
		score := g.Score(daily, weekly)
		rec.DailyCount, rec.WeeklyCount, rec.FatigueScore = daily, weekly, score

		var status string
		switch {
		case daily >= g.limits.DailyLimit || weekly >= g.limits.WeeklyLimit:
			status = StatusBlocked
		case score >= 80:
			status = StatusCritical
		case score >= 60:
			status = StatusWarning
		default:
			continue
		}

		tired = append(tired, TiredSubscriber{
			SubscriberID: id,
			Email:        rec.Email,
			DailyCount:   daily,
			WeeklyCount:  weekly,
			FatigueScore: score,
			Status:       status,
		})
	}

	sort.Slice(tired, func(i, j int) bool {
		if tired[i].FatigueScore != tired[j].FatigueScore {
			return tired[i].FatigueScore > tired[j].FatigueScore
		}
		return tired[i].SubscriberID < tired[j].SubscriberID
	})
	return tired
}

// Alerts projects the current state into actionable alerts, sorted most
// severe first (blocked, then critical, then warning).
func (g *Guardrail) Alerts(ctx context.Context) []FatigueAlert {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.alertsLocked(ctx)
}

func (g *Guardrail) alertsLocked(ctx context.Context) []FatigueAlert {
	now := g.now()
	alerts := make([]FatigueAlert, 0)

	ids := make([]string, 0, len(g.records))
	for id := range g.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	type counted struct {
		id            string
		daily, weekly int
	}
	counts := make([]counted, 0, len(ids))
	for _, id := range ids {
		daily, weekly, err := g.windows.Counts(ctx, id, now)
		if err != nil {
			continue
		}
		counts = append(counts, counted{id: id, daily: daily, weekly: weekly})
	}

	for _, c := range counts {
		if c.daily >= g.limits.DailyLimit {
			alerts = append(alerts, FatigueAlert{
				Type:     AlertIndividual,
				Severity: SeverityBlocked,
				Target:   c.id,
				Current:  float64(c.daily),
				Limit:    g.limits.DailyLimit,
				Affected: 1,
				Recommendation: fmt.Sprintf("Subscriber %s hit the daily limit (%d/%d); hold further sends until tomorrow.",
					c.id, c.daily, g.limits.DailyLimit),
			})
		}
	}

	for _, c := range counts {
		if float64(c.weekly) >= 0.9*float64(g.limits.WeeklyLimit) {
			alerts = append(alerts, FatigueAlert{
				Type:     AlertIndividual,
				Severity: SeverityCritical,
				Target:   c.id,
				Current:  float64(c.weekly),
				Limit:    g.limits.WeeklyLimit,
				Affected: 1,
				Recommendation: fmt.Sprintf("Subscriber %s is at %d/%d weekly sends; skip optional campaigns this week.",
					c.id, c.weekly, g.limits.WeeklyLimit),
			})
		}
	}

	alerts = append(alerts, g.aggregateAlerts(g.segments, AlertSegment, now)...)
	alerts = append(alerts, g.aggregateAlerts(g.cohorts, AlertCohort, now)...)

	sort.SliceStable(alerts, func(i, j int) bool {
		return severityRank[alerts[i].Severity] < severityRank[alerts[j].Severity]
	})
	return alerts
}

func (g *Guardrail) aggregateAlerts(aggs map[string]*AggregateStats, alertType string, now time.Time) []FatigueAlert {
	names := make([]string, 0, len(aggs))
	for name := range aggs {
		names = append(names, name)
	}
	sort.Strings(names)

	var limit int
	if alertType == AlertSegment {
		limit = g.limits.DailyLimit
	} else {
		limit = g.limits.WeeklyLimit
	}

	alerts := make([]FatigueAlert, 0)
	for _, name := range names {
		agg := aggs[name]
		var rate float64
		var window string
		if alertType == AlertSegment {
			if len(agg.Subscribers) > 0 {
				rate = float64(g.aggDaily(agg, now)) / float64(len(agg.Subscribers))
			}
			window = "daily"
		} else {
			if len(agg.Subscribers) > 0 {
				rate = float64(g.aggWeekly(agg, now)) / float64(len(agg.Subscribers))
			}
			window = "weekly"
		}

		if rate < 0.8*float64(limit) {
			continue
		}
		severity := SeverityWarning
		if rate >= float64(limit) {
			severity = SeverityCritical
		}
		alerts = append(alerts, FatigueAlert{
			Type:     alertType,
			Severity: severity,
			Target:   name,
			Current:  rate,
			Limit:    limit,
			Affected: len(agg.Subscribers),
			Recommendation: fmt.Sprintf("%s %q averages %.1f %s sends per subscriber against a limit of %d; rotate it out of upcoming campaigns.",
				alertTypeLabel(alertType), name, rate, window, limit),
		})
	}
	return alerts
}

func alertTypeLabel(alertType string) string {
	if alertType == AlertCohort {
		return "Cohort"
	}
	return "Segment"
}

// DashboardStats assembles the aggregate counts the dashboard renders.
func (g *Guardrail) DashboardStats(ctx context.Context) DashboardStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	stats := DashboardStats{
		TotalSubscribers:  len(g.records),
		GuardrailsEnabled: g.enabled,
		Recommendations:   make([]string, 0),
		TopSegments:       topAggregates(g.segments, func(a *AggregateStats) int { return g.aggWeekly(a, now) }),
		TopCohorts:        topAggregates(g.cohorts, func(a *AggregateStats) int { return g.aggWeekly(a, now) }),
	}

	var scoreSum, overLimit int
	for id := range g.records {
		daily, weekly, err := g.windows.Counts(ctx, id, now)
		if err != nil {
			continue
		}
		scoreSum += g.Score(daily, weekly)
		if daily >= g.limits.DailyLimit || weekly >= g.limits.WeeklyLimit {
			overLimit++
		}
	}
	if len(g.records) > 0 {
		stats.AvgFatigueScore = float64(scoreSum) / float64(len(g.records))
	}
	if g.enabled {
		stats.BlockedToday = overLimit
	}

	stats.TiredCount = len(g.tiredLocked(ctx))

	var criticalSegments []string
	for _, a := range g.alertsLocked(ctx) {
		switch a.Severity {
		case SeverityWarning:
			stats.WarningAlerts++
		case SeverityCritical:
			stats.CriticalAlerts++
			if a.Type == AlertSegment || a.Type == AlertCohort {
				criticalSegments = append(criticalSegments, a.Target)
			}
		}
	}

	if !g.enabled && overLimit > 0 {
		stats.Recommendations = append(stats.Recommendations,
			fmt.Sprintf("Guardrails are disabled while %d subscribers are over their send limits; re-enable enforcement or expect fatigue complaints.", overLimit))
	}
	for _, name := range criticalSegments {
		stats.Recommendations = append(stats.Recommendations,
			fmt.Sprintf("%q is in critical state; pause or downsample its campaigns.", name))
	}
	if stats.AvgFatigueScore >= 60 {
		stats.Recommendations = append(stats.Recommendations,
			fmt.Sprintf("Average fatigue score is %.0f; slow the overall campaign cadence.", stats.AvgFatigueScore))
	}
	if len(stats.Recommendations) == 0 {
		stats.Recommendations = append(stats.Recommendations, "Send volume is within healthy limits.")
	}

	return stats
}

func topAggregates(aggs map[string]*AggregateStats, weekly func(*AggregateStats) int) []AggregateRate {
	rates := make([]AggregateRate, 0, len(aggs))
	for _, agg := range aggs {
		if len(agg.Subscribers) == 0 {
			continue
		}
		rates = append(rates, AggregateRate{
			Name:          agg.Name,
			AvgWeeklyRate: float64(weekly(agg)) / float64(len(agg.Subscribers)),
			Subscribers:   len(agg.Subscribers),
		})
	}
	sort.Slice(rates, func(i, j int) bool {
		if rates[i].AvgWeeklyRate != rates[j].AvgWeeklyRate {
			return rates[i].AvgWeeklyRate > rates[j].AvgWeeklyRate
		}
		return rates[i].Name < rates[j].Name
	})
	if len(rates) > 3 {
		rates = rates[:3]
	}
	return rates
}
