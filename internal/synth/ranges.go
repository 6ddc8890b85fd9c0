package synth

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"container-telemetry/loadgen/internal/domain"
)

var ErrInvalidRanges = errors.New("synth: invalid ranges")

// Span is a closed float interval sampled uniformly.
type Span struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// IntSpan is a closed integer interval sampled uniformly.
type IntSpan struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Ranges is the field-range profile the synthesizer draws from.
type Ranges struct {
	SubscriberPrefix string  `yaml:"subscriber_prefix"`
	SubscriberSuffix IntSpan `yaml:"subscriber_suffix"`
	ContainerPrefix  string  `yaml:"container_prefix"`
	ContainerSerial  IntSpan `yaml:"container_serial"`
	CellID           string  `yaml:"cell_id"`

	// ClockLagMinutes is how far behind "now" the tracker clock may read.
	ClockLagMinutes IntSpan `yaml:"clock_lag_minutes"`

	SignalStrength IntSpan `yaml:"signal_strength"`
	Battery        Span    `yaml:"battery"`
	BatteryFloor   int     `yaml:"battery_floor"`

	AccelX      Span `yaml:"accel_x"`
	AccelY      Span `yaml:"accel_y"`
	AccelZ      Span `yaml:"accel_z"`
	Temperature Span `yaml:"temperature"`
	Humidity    Span `yaml:"humidity"`
	Pressure    Span `yaml:"pressure"`

	DoorStatuses []domain.DoorStatus `yaml:"door_statuses"`

	Latitude       Span    `yaml:"latitude"`
	Longitude      Span    `yaml:"longitude"`
	Altitude       Span    `yaml:"altitude"`
	Speed          Span    `yaml:"speed"`
	Heading        Span    `yaml:"heading"`
	SatelliteCount IntSpan `yaml:"satellite_count"`
	HDOP           Span    `yaml:"hdop"`
}

// DefaultRanges is a container parked near 31.86N 28.74E with the tracker
// lying flat, which keeps acc_x close to -1g.
func DefaultRanges() Ranges {
	return Ranges{
		SubscriberPrefix: "39360050",
		SubscriberSuffix: IntSpan{4800, 4999},
		ContainerPrefix:  "LMCU",
		ContainerSerial:  IntSpan{1, 999999},
		CellID:           "999-01-1-31D41",
		ClockLagMinutes:  IntSpan{0, 60},
		SignalStrength:   IntSpan{15, 35},
		Battery:          Span{76, 96},
		BatteryFloor:     10,
		AccelX:           Span{-993.9, -973.9},
		AccelY:           Span{-27.1, -17.1},
		AccelZ:           Span{-52.0, -42.0},
		Temperature:      Span{17, 27},
		Humidity:         Span{61, 81},
		Pressure:         Span{1002.4, 1022.4},
		DoorStatuses:     append([]domain.DoorStatus(nil), domain.DoorStatuses...),
		Latitude:         Span{31.61, 32.11},
		Longitude:        Span{28.49, 28.99},
		Altitude:         Span{39.5, 59.5},
		Speed:            Span{0, 40},
		Heading:          Span{0, 360},
		SatelliteCount:   IntSpan{4, 12},
		HDOP:             Span{0.5, 5.5},
	}
}

// LoadRanges overlays the YAML profile at path onto DefaultRanges.
// Keys missing from the file keep their default.
func LoadRanges(path string) (Ranges, error) {
	r := DefaultRanges()
	data, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("synth: read profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("synth: parse profile %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return r, err
	}
	return r, nil
}

func (r Ranges) Validate() error {
	spans := map[string]Span{
		"battery":     r.Battery,
		"accel_x":     r.AccelX,
		"accel_y":     r.AccelY,
		"accel_z":     r.AccelZ,
		"temperature": r.Temperature,
		"humidity":    r.Humidity,
		"pressure":    r.Pressure,
		"latitude":    r.Latitude,
		"longitude":   r.Longitude,
		"altitude":    r.Altitude,
		"speed":       r.Speed,
		"heading":     r.Heading,
		"hdop":        r.HDOP,
	}
	for name, s := range spans {
		if s.Min > s.Max {
			return fmt.Errorf("%w: %s min %v > max %v", ErrInvalidRanges, name, s.Min, s.Max)
		}
	}

	ints := map[string]IntSpan{
		"subscriber_suffix": r.SubscriberSuffix,
		"container_serial":  r.ContainerSerial,
		"clock_lag_minutes": r.ClockLagMinutes,
		"signal_strength":   r.SignalStrength,
		"satellite_count":   r.SatelliteCount,
	}
	for name, s := range ints {
		if s.Min > s.Max {
			return fmt.Errorf("%w: %s min %d > max %d", ErrInvalidRanges, name, s.Min, s.Max)
		}
	}
	if err := r.checkBounds(); err != nil {
		return err
	}
	if r.ClockLagMinutes.Min < 0 {
		return fmt.Errorf("%w: clock_lag_minutes must not be negative", ErrInvalidRanges)
	}
	if r.ContainerSerial.Min < 0 || r.ContainerSerial.Max > 9999999 {
		return fmt.Errorf("%w: container_serial must fit 7 digits", ErrInvalidRanges)
	}

	if len(r.DoorStatuses) == 0 {
		return fmt.Errorf("%w: door_statuses is empty", ErrInvalidRanges)
	}
	for _, d := range r.DoorStatuses {
		if !d.Valid() {
			return fmt.Errorf("%w: door status %q", ErrInvalidRanges, d)
		}
	}
	return nil
}

// checkBounds holds a profile to the value ranges of the record itself.
func (r Ranges) checkBounds() error {
	bounded := []struct {
		name   string
		span   Span
		lo, hi float64
	}{
		{"battery", r.Battery, 0, 100},
		{"battery_floor", Span{float64(r.BatteryFloor), float64(r.BatteryFloor)}, 0, 100},
		{"satellite_count", Span{float64(r.SatelliteCount.Min), float64(r.SatelliteCount.Max)}, 4, 12},
		{"hdop", r.HDOP, 0.5, 5.5},
		{"heading", r.Heading, 0, 360},
		{"latitude", r.Latitude, -90, 90},
		{"longitude", r.Longitude, -180, 180},
	}
	for _, b := range bounded {
		if b.span.Min < b.lo || b.span.Max > b.hi {
			return fmt.Errorf("%w: %s %v..%v outside %v..%v", ErrInvalidRanges, b.name, b.span.Min, b.span.Max, b.lo, b.hi)
		}
	}
	return nil
}
