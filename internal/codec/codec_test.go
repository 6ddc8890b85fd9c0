package codec

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"container-telemetry/loadgen/internal/domain"
)

func sampleRecord() domain.ContainerTelemetry {
	return domain.ContainerTelemetry{
		SubscriberID:   "393600504912",
		ContainerID:    "LMCU0012345",
		Timestamp:      "180526 101530.0",
		SignalStrength: 27,
		CellID:         "999-01-1-31D41",
		BLENode:        1,
		BatteryPct:     88,
		AccelX:         -983.5521,
		AccelY:         -22.0134,
		AccelZ:         -47.9912,
		Temperature:    21.37,
		Humidity:       74.02,
		Pressure:       1015.1234,
		Door:           domain.DoorClosed,
		GNSSStatus:     1,
		Latitude:       31.9,
		Longitude:      28.61,
		Altitude:       52.3,
		Speed:          12.4,
		Heading:        271.55,
		SatelliteCount: 9,
		HDOP:           1.7,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := sampleRecord()

	msg, err := Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if msg.Size != len(msg.Bytes) {
		t.Fatalf("Size = %d, len(Bytes) = %d", msg.Size, len(msg.Bytes))
	}

	got, err := Decode(msg.Bytes)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	// float32 fields carry exact bits through fixed32, so equality is exact.
	if got != rec {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, rec)
	}
}

func TestEncodeDecodeScenario(t *testing.T) {
	rec := domain.ContainerTelemetry{
		Latitude:    31.86,
		Longitude:   28.74,
		Temperature: 17.5,
		Door:        domain.DoorDisconnected,
	}

	msg, err := Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(msg.Bytes)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	const tol = 1e-4
	checks := []struct {
		name      string
		got, want float64
	}{
		{"latitude", float64(got.Latitude), 31.86},
		{"longitude", float64(got.Longitude), 28.74},
		{"temperature", float64(got.Temperature), 17.5},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > tol {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if got.Door != domain.DoorDisconnected {
		t.Errorf("door = %q, want D", got.Door)
	}
}

func TestEncodeFieldOrderFollowsSchema(t *testing.T) {
	msg := MustEncode(sampleRecord())

	var last protowire.Number
	b := msg.Bytes
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			t.Fatalf("ConsumeTag: %v", protowire.ParseError(n))
		}
		if num <= last {
			t.Fatalf("field %d written after field %d", num, last)
		}
		f, ok := fieldByNumber(num)
		if !ok {
			t.Fatalf("unknown field %d in output", num)
		}
		if typ != f.Kind.wireType() {
			t.Fatalf("field %s has wire type %d", f.Name, typ)
		}
		last = num
		b = b[n:]
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			t.Fatalf("ConsumeFieldValue: %v", protowire.ParseError(n))
		}
		b = b[n:]
	}
	if last != fieldHDOP {
		t.Fatalf("last field = %d, want %d", last, fieldHDOP)
	}
}

func TestEncodeIndependentOfAssignmentOrder(t *testing.T) {
	a := sampleRecord()

	var b domain.ContainerTelemetry
	b.HDOP = a.HDOP
	b.Door = a.Door
	b.SubscriberID = a.SubscriberID
	b.Heading = a.Heading
	b.AccelZ = a.AccelZ
	b.Timestamp = a.Timestamp
	b.SatelliteCount = a.SatelliteCount
	b.Temperature = a.Temperature
	b.ContainerID = a.ContainerID
	b.Longitude = a.Longitude
	b.BatteryPct = a.BatteryPct
	b.CellID = a.CellID
	b.Pressure = a.Pressure
	b.AccelY = a.AccelY
	b.SignalStrength = a.SignalStrength
	b.Speed = a.Speed
	b.GNSSStatus = a.GNSSStatus
	b.Humidity = a.Humidity
	b.Altitude = a.Altitude
	b.BLENode = a.BLENode
	b.AccelX = a.AccelX
	b.Latitude = a.Latitude

	if !bytes.Equal(MustEncode(a).Bytes, MustEncode(b).Bytes) {
		t.Fatal("encoding depends on field assignment order")
	}
}

func TestSchemaNumbersAreSequential(t *testing.T) {
	if len(Schema) != 22 {
		t.Fatalf("len(Schema) = %d, want 22", len(Schema))
	}
	for i, f := range Schema {
		if int(f.Number) != i+1 {
			t.Errorf("Schema[%d] = %s #%d", i, f.Name, f.Number)
		}
	}
}

func TestEncodeOmitsZeroValues(t *testing.T) {
	msg := MustEncode(domain.ContainerTelemetry{Door: domain.DoorOpen})
	// tag(14, bytes) + len + "O"
	if msg.Size != 3 {
		t.Fatalf("Size = %d, want 3 (% x)", msg.Size, msg.Bytes)
	}
}

func TestEncodeNegativeInt32(t *testing.T) {
	rec := sampleRecord()
	rec.SignalStrength = -5

	got, err := Decode(MustEncode(rec).Bytes)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.SignalStrength != -5 {
		t.Fatalf("rssi = %d, want -5", got.SignalStrength)
	}
}

func TestEncodeSchemaViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.ContainerTelemetry)
		field  string
	}{
		{"invalid utf8", func(r *domain.ContainerTelemetry) { r.ContainerID = "LMCU\xff" }, "iso6346"},
		{"unknown door", func(r *domain.ContainerTelemetry) { r.Door = "X" }, "door"},
		{"empty door", func(r *domain.ContainerTelemetry) { r.Door = "" }, "door"},
		{"nan", func(r *domain.ContainerTelemetry) { r.Speed = float32(math.NaN()) }, "speed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			tt.mutate(&rec)

			_, err := Encode(rec)
			if !errors.Is(err, ErrSchemaViolation) {
				t.Fatalf("err = %v, want ErrSchemaViolation", err)
			}
			var sv *SchemaViolationError
			if !errors.As(err, &sv) || sv.Field != tt.field {
				t.Fatalf("err = %#v, want field %s", err, tt.field)
			}
		})
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	b := MustEncode(sampleRecord()).Bytes
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != sampleRecord() {
		t.Fatal("unknown field altered decoded record")
	}
}

func TestDecodeErrors(t *testing.T) {
	full := MustEncode(sampleRecord()).Bytes

	wrongType := protowire.AppendTag(nil, fieldRSSI, protowire.Fixed32Type)
	wrongType = protowire.AppendFixed32(wrongType, 1)

	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"truncated", full[:len(full)-2], ErrMalformed},
		{"bad tag", []byte{0x80}, ErrMalformed},
		{"wire type mismatch", wrongType, ErrSchemaViolation},
		{"missing door", protowire.AppendVarint(protowire.AppendTag(nil, fieldRSSI, protowire.VarintType), 20), ErrSchemaViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
