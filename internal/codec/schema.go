package codec

import "google.golang.org/protobuf/encoding/protowire"

// Field numbers of the ContainerData message (proto/container_data.proto).
// They are part of the wire contract and must never be renumbered.
const (
	fieldMSISDN      protowire.Number = 1
	fieldISO6346     protowire.Number = 2
	fieldTime        protowire.Number = 3
	fieldRSSI        protowire.Number = 4
	fieldCGI         protowire.Number = 5
	fieldBLEM        protowire.Number = 6
	fieldBatSoC      protowire.Number = 7
	fieldAccX        protowire.Number = 8
	fieldAccY        protowire.Number = 9
	fieldAccZ        protowire.Number = 10
	fieldTemperature protowire.Number = 11
	fieldHumidity    protowire.Number = 12
	fieldPressure    protowire.Number = 13
	fieldDoor        protowire.Number = 14
	fieldGNSS        protowire.Number = 15
	fieldLatitude    protowire.Number = 16
	fieldLongitude   protowire.Number = 17
	fieldAltitude    protowire.Number = 18
	fieldSpeed       protowire.Number = 19
	fieldHeading     protowire.Number = 20
	fieldNSat        protowire.Number = 21
	fieldHDOP        protowire.Number = 22
)

// Kind is the scalar type of a schema field.
type Kind int

const (
	KindString Kind = iota
	KindInt32
	KindFloat
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt32:
		return "int32"
	case KindFloat:
		return "float"
	}
	return "unknown"
}

func (k Kind) wireType() protowire.Type {
	switch k {
	case KindInt32:
		return protowire.VarintType
	case KindFloat:
		return protowire.Fixed32Type
	}
	return protowire.BytesType
}

// Field describes one slot of the ContainerData message.
type Field struct {
	Name   string
	Number protowire.Number
	Kind   Kind
}

// Schema lists the ContainerData fields in wire order.
var Schema = []Field{
	{"msisdn", fieldMSISDN, KindString},
	{"iso6346", fieldISO6346, KindString},
	{"time", fieldTime, KindString},
	{"rssi", fieldRSSI, KindInt32},
	{"cgi", fieldCGI, KindString},
	{"ble_m", fieldBLEM, KindInt32},
	{"bat_soc", fieldBatSoC, KindInt32},
	{"acc_x", fieldAccX, KindFloat},
	{"acc_y", fieldAccY, KindFloat},
	{"acc_z", fieldAccZ, KindFloat},
	{"temperature", fieldTemperature, KindFloat},
	{"humidity", fieldHumidity, KindFloat},
	{"pressure", fieldPressure, KindFloat},
	{"door", fieldDoor, KindString},
	{"gnss", fieldGNSS, KindInt32},
	{"latitude", fieldLatitude, KindFloat},
	{"longitude", fieldLongitude, KindFloat},
	{"altitude", fieldAltitude, KindFloat},
	{"speed", fieldSpeed, KindFloat},
	{"heading", fieldHeading, KindFloat},
	{"nsat", fieldNSat, KindInt32},
	{"hdop", fieldHDOP, KindFloat},
}

func fieldByNumber(n protowire.Number) (Field, bool) {
	if n < 1 || int(n) > len(Schema) {
		return Field{}, false
	}
	return Schema[n-1], true
}
