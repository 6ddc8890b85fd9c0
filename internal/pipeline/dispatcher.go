package pipeline

import (
	"container-telemetry/loadgen/internal/domain"
	"container-telemetry/loadgen/internal/metrics"
)

// Dispatcher fans a decoded message out to the writers. A full channel drops
// the message for that writer only. A nil channel disables its writer.
type Dispatcher struct {
	DBChan    chan *domain.TelemetryMessage
	StateChan chan *domain.TelemetryMessage
	AlertChan chan *domain.TelemetryMessage
}

func NewDispatcher(dbSize, stateSize, alertSize int) *Dispatcher {
	return &Dispatcher{
		DBChan:    newChan(dbSize),
		StateChan: newChan(stateSize),
		AlertChan: newChan(alertSize),
	}
}

func newChan(size int) chan *domain.TelemetryMessage {
	if size <= 0 {
		return nil
	}
	return make(chan *domain.TelemetryMessage, size)
}

func (d *Dispatcher) Dispatch(msg *domain.TelemetryMessage) {
	if d.DBChan != nil {
		select {
		case d.DBChan <- msg:
		default:
			metrics.DBChannelDrops.Add(1)
		}
	}

	if d.StateChan != nil {
		select {
		case d.StateChan <- msg:
		default:
			metrics.StateChannelDrops.Add(1)
		}
	}

	if d.AlertChan != nil {
		select {
		case d.AlertChan <- msg:
		default:
			metrics.AlertChannelDrops.Add(1)
		}
	}
}

// Close ends the writers' input once the HTTP server has stopped.
func (d *Dispatcher) Close() {
	for _, ch := range []chan *domain.TelemetryMessage{d.DBChan, d.StateChan, d.AlertChan} {
		if ch != nil {
			close(ch)
		}
	}
}
