package threat

import "time"

// Kind identifies a scored threat condition.
type Kind string

const (
	KindAudioSpike             Kind = "audio_spike"
	KindSilentSOSNight         Kind = "silent_sos_night"
	KindNoMovementAfterSOS     Kind = "no_movement_after_sos"
	KindRapidLocationDeviation Kind = "rapid_location_deviation"
	KindLongActiveSOS          Kind = "long_active_sos"
	KindRepeatedSOSCancels     Kind = "repeated_sos_cancels"
	KindLowBattery             Kind = "low_battery"
)

// Weights is the fixed per-kind score table.
var Weights = map[Kind]int{
	KindAudioSpike:             30,
	KindSilentSOSNight:         20,
	KindNoMovementAfterSOS:     20,
	KindRapidLocationDeviation: 15,
	KindLongActiveSOS:          15,
	KindRepeatedSOSCancels:     10,
	KindLowBattery:             5,
}

// Level is the escalation tier derived from the cumulative score.
type Level string

const (
	LevelSafe     Level = "safe"
	LevelMonitor  Level = "monitor"
	LevelNotify   Level = "notify"
	LevelEscalate Level = "escalate"
)

const (
	ThresholdMonitor  = 40
	ThresholdNotify   = 60
	ThresholdEscalate = 80
	MaxScore          = 100
)

// LevelForScore maps a cumulative score to its tier. Deterministic: the
// highest threshold not exceeding score wins.
func LevelForScore(score int) Level {
	switch {
	case score >= ThresholdEscalate:
		return LevelEscalate
	case score >= ThresholdNotify:
		return LevelNotify
	case score >= ThresholdMonitor:
		return LevelMonitor
	default:
		return LevelSafe
	}
}

// Signal is one scored condition occurrence.
type Signal struct {
	Kind   Kind      `json:"kind"`
	Score  int       `json:"score"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// State is a snapshot of the scorer for one owner.
type State struct {
	Score     int      `json:"score"`
	Level     Level    `json:"level"`
	Signals   []Signal `json:"signals"`
	Escalated bool     `json:"escalated"`
}
