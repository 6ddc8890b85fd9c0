// Package pool builds and replays a fixed set of pre-encoded telemetry
// messages, each under the transmission size ceiling.
package pool

import (
	"bytes"
	"time"

	"container-telemetry/loadgen/internal/codec"
	"container-telemetry/loadgen/internal/domain"
)

// Entry pairs a record with its encoding.
type Entry struct {
	Record  domain.ContainerTelemetry
	Encoded codec.EncodedMessage
}

// detached returns e with its own copy of the encoded bytes, so a caller
// cannot write through to the pool.
func (e Entry) detached() Entry {
	e.Encoded.Bytes = bytes.Clone(e.Encoded.Bytes)
	return e
}

// Pool is read-only once built and safe to share between goroutines.
type Pool struct {
	entries []Entry
	summary Summary
}

func (p *Pool) Len() int { return len(p.entries) }

func (p *Pool) At(i int) Entry { return p.entries[i].detached() }

func (p *Pool) Summary() Summary { return p.summary }

// Summary describes a completed build.
type Summary struct {
	Count       int
	Rejected    int
	MinSize     int
	MaxSize     int
	MeanSize    float64
	Elapsed     time.Duration
	Rate        float64 // accepted records per second
	MemoryBytes int64   // encoded payload bytes held by the pool
	Oversized   int
}

func summarize(entries []Entry, rejected, ceiling int, elapsed time.Duration) Summary {
	s := Summary{Count: len(entries), Rejected: rejected, Elapsed: elapsed}
	if len(entries) == 0 {
		return s
	}

	s.MinSize = entries[0].Encoded.Size
	var total int64
	for _, e := range entries {
		size := e.Encoded.Size
		total += int64(size)
		if size < s.MinSize {
			s.MinSize = size
		}
		if size > s.MaxSize {
			s.MaxSize = size
		}
		if size >= ceiling {
			s.Oversized++
		}
	}
	s.MeanSize = float64(total) / float64(len(entries))
	s.MemoryBytes = total
	if secs := elapsed.Seconds(); secs > 0 {
		s.Rate = float64(len(entries)) / secs
	}
	return s
}
