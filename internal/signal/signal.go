// Package signal normalizes raw sensor readings into typed signals and fans
// them out to detection subscribers.
package signal

import (
	"time"

	"github.com/windhoek-dev/aegis/internal/geo"
)

// Kind identifies a normalized sensor reading variant.
type Kind string

const (
	KindLocation   Kind = "location"
	KindSpeed      Kind = "speed"
	KindAudioLevel Kind = "audio_level"
	KindBattery    Kind = "battery"
)

// Signal is one normalized reading entering the detection pipeline.
// Exactly one payload field is meaningful per kind.
type Signal struct {
	Kind      Kind      `json:"kind"`
	At        time.Time `json:"at"`
	Location  geo.Point `json:"location,omitempty"`
	SpeedKmh  float64   `json:"speed_kmh,omitempty"`
	Amplitude float64   `json:"amplitude,omitempty"`
	Battery   float64   `json:"battery,omitempty"`
}

// Sample couples a normalized signal with the owner it was reported for.
// This is the unit the broker fans out.
type Sample struct {
	OwnerID string `json:"owner_id"`
	Signal  Signal `json:"signal"`
}

// RawReading is an unvalidated sensor sample as delivered by a device.
// Speed may arrive in m/s; Unit selects the conversion.
type RawReading struct {
	Kind      Kind      `json:"kind"`
	At        time.Time `json:"at"`
	Lat       float64   `json:"lat,omitempty"`
	Lng       float64   `json:"lng,omitempty"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Speed     float64   `json:"speed,omitempty"`
	SpeedUnit string    `json:"speed_unit,omitempty"` // "kmh" (default) or "mps"
	Heading   float64   `json:"heading,omitempty"`
	Amplitude float64   `json:"amplitude,omitempty"`
	Battery   float64   `json:"battery,omitempty"`
}

// Normalize validates a raw reading and converts it to a typed Signal.
// Malformed readings are dropped: the second return is false and the caller
// should ignore the sample rather than fail.
func Normalize(r RawReading) (Signal, bool) {
	at := r.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	switch r.Kind {
	case KindLocation:
		p := geo.Point{Lat: r.Lat, Lng: r.Lng, Accuracy: r.Accuracy, Heading: r.Heading}
		if !p.Valid() {
			return Signal{}, false
		}
		p.SpeedKmh = normalizeSpeed(r.Speed, r.SpeedUnit)
		if p.SpeedKmh < 0 {
			p.SpeedKmh = 0
		}
		return Signal{Kind: KindLocation, At: at, Location: p}, true
	case KindSpeed:
		kmh := normalizeSpeed(r.Speed, r.SpeedUnit)
		if kmh < 0 {
			return Signal{}, false
		}
		return Signal{Kind: KindSpeed, At: at, SpeedKmh: kmh}, true
	case KindAudioLevel:
		if r.Amplitude < 0 || r.Amplitude > 1 {
			return Signal{}, false
		}
		return Signal{Kind: KindAudioLevel, At: at, Amplitude: r.Amplitude}, true
	case KindBattery:
		if r.Battery < 0 || r.Battery > 100 {
			return Signal{}, false
		}
		return Signal{Kind: KindBattery, At: at, Battery: r.Battery}, true
	default:
		return Signal{}, false
	}
}

func normalizeSpeed(v float64, unit string) float64 {
	if unit == "mps" {
		return geo.MpsToKmh(v)
	}
	return v
}
