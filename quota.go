package cloudgpt

import (
	"context"
	"log/slog"
	"time"
)

// QuotaStore keeps request counters per bucket key.
type QuotaStore interface {
	// Hit atomically checks the counter against limit and increments it when
	// allowed. A denied hit leaves the counter unchanged.
	Hit(ctx context.Context, key string, limit int64, w Window) (QuotaResult, error)

	// Peek reports the counter state without mutating it.
	Peek(ctx context.Context, key string, limit int64, w Window) (QuotaResult, error)
}

// Window describes when a counter resets.
type Window struct {
	Name   string
	Length time.Duration
	// Daily windows reset at the next UTC midnight instead of after Length.
	Daily bool
}

var (
	MinuteWindow = Window{Name: "minute", Length: 60 * time.Second}
	DailyWindow  = Window{Name: "daily", Length: 24 * time.Hour, Daily: true}
)

// ResetAt returns when a window opened at now closes.
func (w Window) ResetAt(now time.Time) time.Time {
	if w.Daily {
		return NextMidnightUTC(now)
	}
	return now.Add(w.Length)
}

// NextMidnightUTC returns the start of the next UTC day.
func NextMidnightUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

// QuotaResult is the state of one counter after a Hit or Peek.
type QuotaResult struct {
	Allowed   bool
	Remaining int64
	Limit     int64
	ResetAt   time.Time
}

// RateDecision is the outcome of a Limiter check.
type RateDecision struct {
	Allowed bool
	// Window names the window that denied the request.
	Window string
	Minute QuotaResult
	Daily  QuotaResult
}

// RetryAfter returns the wait until the denying window resets.
func (d RateDecision) RetryAfter(now time.Time) time.Duration {
	reset := d.Minute.ResetAt
	if d.Window == DailyWindow.Name {
		reset = d.Daily.ResetAt
	}
	wait := reset.Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return wait.Round(time.Second)
}

// Limiter enforces plan limits on top of a QuotaStore.
type Limiter struct {
	store          QuotaStore
	logger         *slog.Logger
	now            func() time.Time
	peakModalities map[Modality]bool
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithLimiterLogger sets the logger used for fail-open warnings.
func WithLimiterLogger(l *slog.Logger) LimiterOption {
	return func(lim *Limiter) { lim.logger = l }
}

// WithLimiterClock overrides the clock used for peak-hour decisions.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(lim *Limiter) { lim.now = now }
}

// WithPeakHourModalities sets which operation classes are dampened during
// peak hours. The default is video only.
func WithPeakHourModalities(ms ...Modality) LimiterOption {
	return func(lim *Limiter) {
		lim.peakModalities = make(map[Modality]bool, len(ms))
		for _, m := range ms {
			lim.peakModalities[m] = true
		}
	}
}

// NewLimiter creates a Limiter over store.
func NewLimiter(store QuotaStore, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		store:          store,
		now:            time.Now,
		peakModalities: map[Modality]bool{ModalityVideo: true},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	l.logger = l.logger.With("component", "limiter")
	return l
}

// LimitsFor returns the limits in force for id and operation class right now.
func (l *Limiter) LimitsFor(id Identity, m Modality) Limits {
	lim := EffectiveLimits(id.Plan, m, Limits{RPM: id.CustomRPM, RPD: id.CustomRPD})
	if l.peakModalities[m] {
		now := l.now()
		lim.RPM = ApplyPeakHoursLimit(lim.RPM, now)
		lim.RPD = ApplyPeakHoursLimit(lim.RPD, now)
	}
	return lim
}

// Check counts one request against the daily window and then the minute
// window. The daily window is read first and only charged once the minute
// window admits the request, so requests refused per minute leave the daily
// allowance intact. A store failure allows the request.
func (l *Limiter) Check(ctx context.Context, id Identity, m Modality) RateDecision {
	lim := l.LimitsFor(id, m)
	key := bucketKey(id, m)
	dailyKey, minuteKey := key+":"+DailyWindow.Name, key+":"+MinuteWindow.Name

	daily, err := l.store.Peek(ctx, dailyKey, lim.RPD, DailyWindow)
	if err != nil {
		l.logger.Warn("quota store unavailable, allowing request", "bucket", key, "window", DailyWindow.Name, "error", err)
		return l.failOpen(lim)
	}
	if !daily.Allowed {
		minute, _ := l.store.Peek(ctx, minuteKey, lim.RPM, MinuteWindow)
		return RateDecision{Window: DailyWindow.Name, Daily: daily, Minute: minute}
	}

	minute, err := l.store.Hit(ctx, minuteKey, lim.RPM, MinuteWindow)
	if err != nil {
		l.logger.Warn("quota store unavailable, allowing request", "bucket", key, "window", MinuteWindow.Name, "error", err)
		return RateDecision{Allowed: true, Daily: daily, Minute: QuotaResult{Allowed: true, Limit: lim.RPM, Remaining: lim.RPM}}
	}
	if !minute.Allowed {
		return RateDecision{Window: MinuteWindow.Name, Daily: daily, Minute: minute}
	}

	// Another instance may have used the last daily unit since the peek.
	charged, err := l.store.Hit(ctx, dailyKey, lim.RPD, DailyWindow)
	if err != nil {
		l.logger.Warn("quota store unavailable, allowing request", "bucket", key, "window", DailyWindow.Name, "error", err)
		return RateDecision{Allowed: true, Daily: daily, Minute: minute}
	}
	if !charged.Allowed {
		return RateDecision{Window: DailyWindow.Name, Daily: charged, Minute: minute}
	}
	return RateDecision{Allowed: true, Daily: charged, Minute: minute}
}

// Info reads both windows without counting a request.
func (l *Limiter) Info(ctx context.Context, id Identity, m Modality) (minute, daily QuotaResult) {
	lim := l.LimitsFor(id, m)
	key := bucketKey(id, m)

	var err error
	if minute, err = l.store.Peek(ctx, key+":"+MinuteWindow.Name, lim.RPM, MinuteWindow); err != nil {
		l.logger.Warn("quota peek failed", "bucket", key, "error", err)
		minute = QuotaResult{Allowed: true, Limit: lim.RPM, Remaining: lim.RPM}
	}
	if daily, err = l.store.Peek(ctx, key+":"+DailyWindow.Name, lim.RPD, DailyWindow); err != nil {
		l.logger.Warn("quota peek failed", "bucket", key, "error", err)
		daily = QuotaResult{Allowed: true, Limit: lim.RPD, Remaining: lim.RPD}
	}
	return minute, daily
}

func (l *Limiter) failOpen(lim Limits) RateDecision {
	return RateDecision{
		Allowed: true,
		Minute:  QuotaResult{Allowed: true, Limit: lim.RPM, Remaining: lim.RPM},
		Daily:   QuotaResult{Allowed: true, Limit: lim.RPD, Remaining: lim.RPD},
	}
}

// Operation classes share counters: image and embedding requests count
// against the chat budget, video has its own.
func bucketKey(id Identity, m Modality) string {
	class := "chat"
	if m == ModalityVideo {
		class = "video"
	}
	return id.BucketKey() + ":" + class
}
