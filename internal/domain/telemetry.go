package domain

import (
	"fmt"
	"strings"
	"time"
)

// DoorStatus is the door sensor code reported by the container tracker.
type DoorStatus string

const (
	DoorDisconnected DoorStatus = "D"
	DoorOpen         DoorStatus = "O"
	DoorClosed       DoorStatus = "C"
	DoorTampered     DoorStatus = "T"
)

var DoorStatuses = []DoorStatus{DoorDisconnected, DoorOpen, DoorClosed, DoorTampered}

func (d DoorStatus) Valid() bool {
	switch d {
	case DoorDisconnected, DoorOpen, DoorClosed, DoorTampered:
		return true
	}
	return false
}

// TimestampLayout is the tracker clock format: DDMMYY hhmmss.s
const TimestampLayout = "020106 150405.0"

// ContainerTelemetry is one reading from a container tracker. Every field is
// always set; the JSON names are the tracker's own keys.
type ContainerTelemetry struct {
	SubscriberID   string     `json:"msisdn"`
	ContainerID    string     `json:"iso6346"`
	Timestamp      string     `json:"time"`
	SignalStrength int32      `json:"rssi"`
	CellID         string     `json:"cgi"`
	BLENode        int32      `json:"ble-m"`
	BatteryPct     int32      `json:"bat-soc"`
	AccelX         float32    `json:"acc_x"`
	AccelY         float32    `json:"acc_y"`
	AccelZ         float32    `json:"acc_z"`
	Temperature    float32    `json:"temperature"`
	Humidity       float32    `json:"humidity"`
	Pressure       float32    `json:"pressure"`
	Door           DoorStatus `json:"door"`
	GNSSStatus     int32      `json:"gnss"`
	Latitude       float32    `json:"latitude"`
	Longitude      float32    `json:"longitude"`
	Altitude       float32    `json:"altitude"`
	Speed          float32    `json:"speed"`
	Heading        float32    `json:"heading"`
	SatelliteCount int32      `json:"nsat"`
	HDOP           float32    `json:"hdop"`
}

// DeviceTime parses Timestamp using TimestampLayout in UTC.
func (t ContainerTelemetry) DeviceTime() (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, t.Timestamp, time.UTC)
}

// Delimiter separates values in the tracker's text frame.
const Delimiter = "|"

// Delimited renders the record as the tracker's pipe-delimited text frame,
// values only, in frame order.
func (t ContainerTelemetry) Delimited() string {
	values := []string{
		t.SubscriberID,
		t.ContainerID,
		t.Timestamp,
		fmt.Sprintf("%d", t.SignalStrength),
		t.CellID,
		fmt.Sprintf("%d", t.BLENode),
		fmt.Sprintf("%d", t.BatteryPct),
		fmt.Sprintf("%.4f %.4f %.4f", t.AccelX, t.AccelY, t.AccelZ),
		fmt.Sprintf("%.2f", t.Temperature),
		fmt.Sprintf("%.2f", t.Humidity),
		fmt.Sprintf("%.4f", t.Pressure),
		string(t.Door),
		fmt.Sprintf("%d", t.GNSSStatus),
		fmt.Sprintf("%.2f", t.Latitude),
		fmt.Sprintf("%.2f", t.Longitude),
		fmt.Sprintf("%.2f", t.Altitude),
		fmt.Sprintf("%.1f", t.Speed),
		fmt.Sprintf("%.2f", t.Heading),
		fmt.Sprintf("%02d", t.SatelliteCount),
		fmt.Sprintf("%.1f", t.HDOP),
	}
	return strings.Join(values, Delimiter)
}

// TelemetryMessage is a decoded reading as accepted by the ingestion sink.
type TelemetryMessage struct {
	ReceivedAt time.Time
	Record     ContainerTelemetry
	RawPayload []byte
}

type AlertType string

const (
	AlertDoorOpen        AlertType = "DOOR_OPEN"
	AlertDoorTampered    AlertType = "DOOR_TAMPERED"
	AlertLowBattery      AlertType = "LOW_BATTERY"
	AlertHighTemperature AlertType = "HIGH_TEMPERATURE"
)

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

type AlertRule struct {
	Type      AlertType
	Severity  AlertSeverity
	Evaluator func(msg *TelemetryMessage) bool
	Value     func(msg *TelemetryMessage) float64
}

var DefaultAlertRules = []AlertRule{
	{
		Type:      AlertDoorOpen,
		Severity:  SeverityWarning,
		Evaluator: func(m *TelemetryMessage) bool { return m.Record.Door == DoorOpen },
		Value:     func(m *TelemetryMessage) float64 { return 0 },
	},
	{
		Type:      AlertDoorTampered,
		Severity:  SeverityCritical,
		Evaluator: func(m *TelemetryMessage) bool { return m.Record.Door == DoorTampered },
		Value:     func(m *TelemetryMessage) float64 { return 0 },
	},
	{
		Type:      AlertLowBattery,
		Severity:  SeverityWarning,
		Evaluator: func(m *TelemetryMessage) bool { return m.Record.BatteryPct < 20 },
		Value:     func(m *TelemetryMessage) float64 { return float64(m.Record.BatteryPct) },
	},
	{
		Type:      AlertHighTemperature,
		Severity:  SeverityCritical,
		Evaluator: func(m *TelemetryMessage) bool { return m.Record.Temperature > 26.0 },
		Value:     func(m *TelemetryMessage) float64 { return float64(m.Record.Temperature) },
	},
}
