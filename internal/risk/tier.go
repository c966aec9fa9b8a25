// Package risk classifies a user's recent audit trail into NORMAL, WATCH or LOCKED and carries out
// the lock and flag actions that classification implies.
package risk

import "time"

// Tier is the outcome of one evaluation.
type Tier string

const (
	TierNormal Tier = "NORMAL"
	TierWatch  Tier = "WATCH"
	TierLocked Tier = "LOCKED"
)

// Signal is an observation that can move an evaluation to a higher tier.
type Signal string

const (
	SignalFailedLogins      Signal = "failed_logins"
	SignalIPSpread          Signal = "ip_spread"
	SignalWindowUnavailable Signal = "window_unavailable"
)

// transitions lists every escalation. Pairs not listed keep the current tier, so a tier never drops
// within an evaluation.
var transitions = map[Tier]map[Signal]Tier{
	TierNormal: {
		SignalFailedLogins:      TierLocked,
		SignalIPSpread:          TierWatch,
		SignalWindowUnavailable: TierWatch,
	},
	TierWatch: {
		SignalFailedLogins: TierLocked,
	},
}

// Transition returns the tier reached from t on signal s.
func Transition(t Tier, s Signal) Tier {
	if next, ok := transitions[t][s]; ok {
		return next
	}
	return t
}

// Rank orders tiers: NORMAL < WATCH < LOCKED.
func (t Tier) Rank() int {
	switch t {
	case TierWatch:
		return 1
	case TierLocked:
		return 2
	default:
		return 0
	}
}

// Thresholds configures evaluation. Zero fields take the defaults.
type Thresholds struct {
	Window       time.Duration
	FailedLogins int // lock at or above
	DistinctIPs  int // flag strictly above
}

// DefaultThresholds are 5 failed logins or more than 3 distinct IPs within 60 minutes.
var DefaultThresholds = Thresholds{Window: 60 * time.Minute, FailedLogins: 5, DistinctIPs: 3}

func (t Thresholds) withDefaults() Thresholds {
	if t.Window <= 0 {
		t.Window = DefaultThresholds.Window
	}
	if t.FailedLogins <= 0 {
		t.FailedLogins = DefaultThresholds.FailedLogins
	}
	if t.DistinctIPs <= 0 {
		t.DistinctIPs = DefaultThresholds.DistinctIPs
	}
	return t
}
