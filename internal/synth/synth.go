// Package synth produces plausible container tracker readings.
package synth

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"container-telemetry/loadgen/internal/domain"
)

// Clock returns the current time. Timestamps are generated relative to it.
type Clock func() time.Time

type Option func(*Synthesizer)

// WithClock replaces time.Now as the reference for generated timestamps.
func WithClock(c Clock) Option {
	return func(s *Synthesizer) { s.now = c }
}

// Synthesizer draws records from a Ranges profile. It is not safe for
// concurrent use; give each goroutine its own.
type Synthesizer struct {
	rng    *rand.Rand
	ranges Ranges
	now    Clock
}

func New(r Ranges, opts ...Option) *Synthesizer {
	return NewSeeded(rand.Uint64(), r, opts...)
}

// NewSeeded returns a Synthesizer whose output is fully determined by seed
// and the clock.
func NewSeeded(seed uint64, r Ranges, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		ranges: r,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Synthesizer) Synthesize() domain.ContainerTelemetry {
	r := s.ranges

	ts := s.now().UTC().Add(-time.Duration(s.intIn(r.ClockLagMinutes)) * time.Minute)

	battery := int32(s.floatIn(r.Battery))
	if battery < int32(r.BatteryFloor) {
		battery = int32(r.BatteryFloor)
	}

	return domain.ContainerTelemetry{
		SubscriberID:   r.SubscriberPrefix + strconv.Itoa(s.intIn(r.SubscriberSuffix)),
		ContainerID:    fmt.Sprintf("%s%07d", r.ContainerPrefix, s.intIn(r.ContainerSerial)),
		Timestamp:      ts.Format(domain.TimestampLayout),
		SignalStrength: int32(s.intIn(r.SignalStrength)),
		CellID:         r.CellID,
		BLENode:        int32(s.rng.IntN(2)),
		BatteryPct:     battery,
		AccelX:         s.sample(r.AccelX, 4),
		AccelY:         s.sample(r.AccelY, 4),
		AccelZ:         s.sample(r.AccelZ, 4),
		Temperature:    s.sample(r.Temperature, 2),
		Humidity:       s.sample(r.Humidity, 2),
		Pressure:       s.sample(r.Pressure, 4),
		Door:           r.DoorStatuses[s.rng.IntN(len(r.DoorStatuses))],
		GNSSStatus:     int32(s.rng.IntN(2)),
		Latitude:       s.sample(r.Latitude, 2),
		Longitude:      s.sample(r.Longitude, 2),
		Altitude:       s.sample(r.Altitude, 2),
		Speed:          s.sample(r.Speed, 1),
		Heading:        s.sample(r.Heading, 2),
		SatelliteCount: int32(s.intIn(r.SatelliteCount)),
		HDOP:           s.sample(r.HDOP, 1),
	}
}

func (s *Synthesizer) floatIn(sp Span) float64 {
	return sp.Min + s.rng.Float64()*(sp.Max-sp.Min)
}

func (s *Synthesizer) intIn(sp IntSpan) int {
	return sp.Min + s.rng.IntN(sp.Max-sp.Min+1)
}

func (s *Synthesizer) sample(sp Span, places int) float32 {
	return float32(round(s.floatIn(sp), places))
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
