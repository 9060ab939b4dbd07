package cloudgpt

import (
	"strings"
	"time"
)

// Plan is a subscription tier.
type Plan string

const (
	PlanAnonymous  Plan = "anonymous"
	PlanFree       Plan = "free"
	PlanDeveloper  Plan = "developer"
	PlanPro        Plan = "pro"
	PlanVideo      Plan = "video"
	PlanEnterprise Plan = "enterprise"
	PlanAdmin      Plan = "admin"
)

// ParsePlan normalizes a stored plan name. Unknown names are treated as free.
func ParsePlan(s string) Plan {
	switch p := Plan(strings.ToLower(strings.TrimSpace(s))); p {
	case PlanAnonymous, PlanFree, PlanDeveloper, PlanPro, PlanVideo, PlanEnterprise, PlanAdmin:
		return p
	default:
		return PlanFree
	}
}

// AllowsPremium reports whether the plan may use premium models.
func (p Plan) AllowsPremium() bool {
	switch p {
	case PlanPro, PlanEnterprise, PlanDeveloper, PlanAdmin:
		return true
	}
	return false
}

// AllowsVideo reports whether the plan may use video models.
func (p Plan) AllowsVideo() bool {
	switch p {
	case PlanVideo, PlanEnterprise, PlanAdmin:
		return true
	}
	return false
}

// Limits is a pair of request budgets.
type Limits struct {
	RPM int64
	RPD int64
}

type planRow struct {
	chat     Limits
	videoRPM int64
}

var planTable = map[Plan]planRow{
	PlanAnonymous:  {chat: Limits{RPM: 100, RPD: 1000}, videoRPM: 2},
	PlanFree:       {chat: Limits{RPM: 100, RPD: 1000}, videoRPM: 2},
	PlanDeveloper:  {chat: Limits{RPM: 1000, RPD: 5000}, videoRPM: 5},
	PlanPro:        {chat: Limits{RPM: 200, RPD: 2000}, videoRPM: 2},
	PlanVideo:      {chat: Limits{RPM: 200, RPD: 2000}, videoRPM: 5},
	PlanEnterprise: {chat: Limits{RPM: 10000, RPD: 100000}, videoRPM: 20},
	PlanAdmin:      {chat: Limits{RPM: 10000, RPD: 100000}, videoRPM: 20},
}

// PlanLimits returns the baseline limits of a plan for one operation class.
// Video gets a daily budget of ten minutes' worth of requests.
func PlanLimits(p Plan, m Modality) Limits {
	row, ok := planTable[p]
	if !ok {
		row = planTable[PlanFree]
	}
	if m == ModalityVideo {
		return Limits{RPM: row.videoRPM, RPD: row.videoRPM * 10}
	}
	return row.chat
}

// EffectiveLimits applies a per-key custom limit, which only ever raises the
// plan default.
func EffectiveLimits(p Plan, m Modality, custom Limits) Limits {
	l := PlanLimits(p, m)
	if custom.RPM > l.RPM {
		l.RPM = custom.RPM
	}
	if custom.RPD > l.RPD {
		l.RPD = custom.RPD
	}
	return l
}

// IsPeakHour reports whether t falls in the 17:00-05:00 UTC band.
func IsPeakHour(t time.Time) bool {
	h := t.UTC().Hour()
	return h >= 17 || h < 5
}

// ApplyPeakHoursLimit halves a limit during peak hours, never below 1.
func ApplyPeakHoursLimit(limit int64, now time.Time) int64 {
	if !IsPeakHour(now) {
		return limit
	}
	halved := limit / 2
	if halved < 1 {
		return 1
	}
	return halved
}
