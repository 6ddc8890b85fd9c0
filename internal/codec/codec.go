// Package codec binds domain.ContainerTelemetry to the ContainerData protobuf
// schema. Output is the canonical proto3 encoding: fields in ascending number,
// zero values omitted, so it is byte-identical to what protoc-generated code
// produces for the same message.
package codec

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"container-telemetry/loadgen/internal/domain"
)

var (
	ErrSchemaViolation = errors.New("codec: schema violation")
	ErrMalformed       = errors.New("codec: malformed message")
)

// SchemaViolationError reports a value that cannot be carried by its schema slot.
type SchemaViolationError struct {
	Field  string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("codec: field %s: %s", e.Field, e.Reason)
}

func (e *SchemaViolationError) Unwrap() error { return ErrSchemaViolation }

// EncodedMessage is the wire form of one record.
type EncodedMessage struct {
	Bytes []byte
	Size  int
}

// Encode serializes rec in schema order.
func Encode(rec domain.ContainerTelemetry) (EncodedMessage, error) {
	if err := validate(rec); err != nil {
		return EncodedMessage{}, err
	}

	b := make([]byte, 0, 160)
	b = appendString(b, fieldMSISDN, rec.SubscriberID)
	b = appendString(b, fieldISO6346, rec.ContainerID)
	b = appendString(b, fieldTime, rec.Timestamp)
	b = appendInt32(b, fieldRSSI, rec.SignalStrength)
	b = appendString(b, fieldCGI, rec.CellID)
	b = appendInt32(b, fieldBLEM, rec.BLENode)
	b = appendInt32(b, fieldBatSoC, rec.BatteryPct)
	b = appendFloat(b, fieldAccX, rec.AccelX)
	b = appendFloat(b, fieldAccY, rec.AccelY)
	b = appendFloat(b, fieldAccZ, rec.AccelZ)
	b = appendFloat(b, fieldTemperature, rec.Temperature)
	b = appendFloat(b, fieldHumidity, rec.Humidity)
	b = appendFloat(b, fieldPressure, rec.Pressure)
	b = appendString(b, fieldDoor, string(rec.Door))
	b = appendInt32(b, fieldGNSS, rec.GNSSStatus)
	b = appendFloat(b, fieldLatitude, rec.Latitude)
	b = appendFloat(b, fieldLongitude, rec.Longitude)
	b = appendFloat(b, fieldAltitude, rec.Altitude)
	b = appendFloat(b, fieldSpeed, rec.Speed)
	b = appendFloat(b, fieldHeading, rec.Heading)
	b = appendInt32(b, fieldNSat, rec.SatelliteCount)
	b = appendFloat(b, fieldHDOP, rec.HDOP)

	return EncodedMessage{Bytes: b, Size: len(b)}, nil
}

// MustEncode is Encode for records that are valid by construction.
func MustEncode(rec domain.ContainerTelemetry) EncodedMessage {
	msg, err := Encode(rec)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode parses a ContainerData message. Unknown fields are skipped.
func Decode(b []byte) (domain.ContainerTelemetry, error) {
	var rec domain.ContainerTelemetry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return rec, fmt.Errorf("%w: tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		field, known := fieldByNumber(num)
		if !known {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return rec, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		if typ != field.Kind.wireType() {
			return rec, &SchemaViolationError{
				Field:  field.Name,
				Reason: fmt.Sprintf("wire type %d, want %s", typ, field.Kind),
			}
		}

		switch field.Kind {
		case KindString:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return rec, fmt.Errorf("%w: field %s: %v", ErrMalformed, field.Name, protowire.ParseError(n))
			}
			if !utf8.ValidString(v) {
				return rec, &SchemaViolationError{Field: field.Name, Reason: "invalid UTF-8"}
			}
			setString(&rec, num, v)
			b = b[n:]
		case KindInt32:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return rec, fmt.Errorf("%w: field %s: %v", ErrMalformed, field.Name, protowire.ParseError(n))
			}
			setInt32(&rec, num, int32(v))
			b = b[n:]
		case KindFloat:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return rec, fmt.Errorf("%w: field %s: %v", ErrMalformed, field.Name, protowire.ParseError(n))
			}
			setFloat(&rec, num, math.Float32frombits(v))
			b = b[n:]
		}
	}

	if !rec.Door.Valid() {
		return rec, &SchemaViolationError{Field: "door", Reason: fmt.Sprintf("unknown status %q", rec.Door)}
	}
	return rec, nil
}

func validate(rec domain.ContainerTelemetry) error {
	strs := []struct {
		name string
		v    string
	}{
		{"msisdn", rec.SubscriberID},
		{"iso6346", rec.ContainerID},
		{"time", rec.Timestamp},
		{"cgi", rec.CellID},
		{"door", string(rec.Door)},
	}
	for _, s := range strs {
		if !utf8.ValidString(s.v) {
			return &SchemaViolationError{Field: s.name, Reason: "invalid UTF-8"}
		}
	}
	if !rec.Door.Valid() {
		return &SchemaViolationError{Field: "door", Reason: fmt.Sprintf("unknown status %q", rec.Door)}
	}
	floats := []struct {
		name string
		v    float32
	}{
		{"acc_x", rec.AccelX}, {"acc_y", rec.AccelY}, {"acc_z", rec.AccelZ},
		{"temperature", rec.Temperature}, {"humidity", rec.Humidity}, {"pressure", rec.Pressure},
		{"latitude", rec.Latitude}, {"longitude", rec.Longitude}, {"altitude", rec.Altitude},
		{"speed", rec.Speed}, {"heading", rec.Heading}, {"hdop", rec.HDOP},
	}
	for _, f := range floats {
		if math.IsNaN(float64(f.v)) || math.IsInf(float64(f.v), 0) {
			return &SchemaViolationError{Field: f.name, Reason: "not a finite number"}
		}
	}
	return nil
}

// proto3 implicit presence: default values are not written.

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	bits := math.Float32bits(v)
	if bits == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, bits)
}

func setString(rec *domain.ContainerTelemetry, num protowire.Number, v string) {
	switch num {
	case fieldMSISDN:
		rec.SubscriberID = v
	case fieldISO6346:
		rec.ContainerID = v
	case fieldTime:
		rec.Timestamp = v
	case fieldCGI:
		rec.CellID = v
	case fieldDoor:
		rec.Door = domain.DoorStatus(v)
	}
}

func setInt32(rec *domain.ContainerTelemetry, num protowire.Number, v int32) {
	switch num {
	case fieldRSSI:
		rec.SignalStrength = v
	case fieldBLEM:
		rec.BLENode = v
	case fieldBatSoC:
		rec.BatteryPct = v
	case fieldGNSS:
		rec.GNSSStatus = v
	case fieldNSat:
		rec.SatelliteCount = v
	}
}

func setFloat(rec *domain.ContainerTelemetry, num protowire.Number, v float32) {
	switch num {
	case fieldAccX:
		rec.AccelX = v
	case fieldAccY:
		rec.AccelY = v
	case fieldAccZ:
		rec.AccelZ = v
	case fieldTemperature:
		rec.Temperature = v
	case fieldHumidity:
		rec.Humidity = v
	case fieldPressure:
		rec.Pressure = v
	case fieldLatitude:
		rec.Latitude = v
	case fieldLongitude:
		rec.Longitude = v
	case fieldAltitude:
		rec.Altitude = v
	case fieldSpeed:
		rec.Speed = v
	case fieldHeading:
		rec.Heading = v
	case fieldHDOP:
		rec.HDOP = v
	}
}
