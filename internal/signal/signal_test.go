package signal

import (
	"math"
	"testing"
	"time"
)

func TestNormalizeLocation(t *testing.T) {
	s, ok := Normalize(RawReading{Kind: KindLocation, Lat: -22.56, Lng: 17.08, Speed: 12.5})
	if !ok {
		t.Fatalf("Normalize() dropped a valid location")
	}
	if s.Kind != KindLocation || s.Location.Lat != -22.56 || s.Location.SpeedKmh != 12.5 {
		t.Fatalf("unexpected signal: %+v", s)
	}
	if s.At.IsZero() {
		t.Fatalf("At should default to now")
	}
}

func TestNormalizeDropsMalformed(t *testing.T) {
	cases := []RawReading{
		{Kind: KindLocation, Lat: 95, Lng: 0},
		{Kind: KindSpeed, Speed: -4},
		{Kind: KindAudioLevel, Amplitude: 1.2},
		{Kind: KindAudioLevel, Amplitude: -0.1},
		{Kind: KindBattery, Battery: 101},
		{Kind: Kind("unknown")},
	}
	for i, r := range cases {
		if _, ok := Normalize(r); ok {
			t.Fatalf("case %d: Normalize(%+v) accepted a malformed reading", i, r)
		}
	}
}

func TestNormalizeSpeedUnitConversion(t *testing.T) {
	s, ok := Normalize(RawReading{Kind: KindSpeed, Speed: 10, SpeedUnit: "mps"})
	if !ok {
		t.Fatalf("Normalize() dropped a valid speed")
	}
	if math.Abs(s.SpeedKmh-36) > 1e-9 {
		t.Fatalf("SpeedKmh = %v, want 36", s.SpeedKmh)
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel1()
	defer cancel2()

	b.Publish(Sample{OwnerID: "u1", Signal: Signal{Kind: KindSpeed, SpeedKmh: 50, At: time.Now()}})

	for i, ch := range []<-chan Sample{ch1, ch2} {
		select {
		case s := <-ch:
			if s.OwnerID != "u1" || s.Signal.SpeedKmh != 50 {
				t.Fatalf("subscriber %d: sample = %+v, want u1/50", i, s)
			}
		default:
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()
	cancel() // idempotent

	b.Publish(Sample{Signal: Signal{Kind: KindSpeed, SpeedKmh: 10}})
	if _, open := <-ch; open {
		t.Fatalf("channel should be closed after cancel")
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	_, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(Sample{Signal: Signal{Kind: KindSpeed, SpeedKmh: float64(i)}})
	}
	if b.Dropped() != 10 {
		t.Fatalf("Dropped() = %d, want 10", b.Dropped())
	}
}

func TestBrokerCloseIdempotent(t *testing.T) {
	b := NewBroker()
	ch, _ := b.Subscribe()
	b.Close()
	b.Close()
	if _, open := <-ch; open {
		t.Fatalf("subscriber channel should be closed")
	}
	// Subscribe after close yields a closed channel.
	ch2, cancel := b.Subscribe()
	cancel()
	if _, open := <-ch2; open {
		t.Fatalf("post-close subscription should be closed")
	}
}
