package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

// Load generator
var (
	PoolEntries      atomic.Int64
	PoolRejected     atomic.Int64
	RequestsSent     atomic.Int64
	RequestSuccesses atomic.Int64
	RequestFailures  atomic.Int64
	BytesSent        atomic.Int64
	ActiveUsers      atomic.Int64
)

// Reference sink
var (
	MessagesReceived  atomic.Int64
	DecodeFailures    atomic.Int64
	DBWriteSuccess    atomic.Int64
	DBWriteFailures   atomic.Int64
	DBChannelDrops    atomic.Int64
	StateChannelDrops atomic.Int64
	AlertChannelDrops atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "loadgen_pool_entries %d\n", PoolEntries.Load())
	fmt.Fprintf(w, "loadgen_pool_rejected_total %d\n", PoolRejected.Load())
	fmt.Fprintf(w, "loadgen_requests_total %d\n", RequestsSent.Load())
	fmt.Fprintf(w, "loadgen_request_successes_total %d\n", RequestSuccesses.Load())
	fmt.Fprintf(w, "loadgen_request_failures_total %d\n", RequestFailures.Load())
	fmt.Fprintf(w, "loadgen_bytes_sent_total %d\n", BytesSent.Load())
	fmt.Fprintf(w, "loadgen_active_users %d\n", ActiveUsers.Load())
	fmt.Fprintf(w, "sink_messages_received_total %d\n", MessagesReceived.Load())
	fmt.Fprintf(w, "sink_decode_failures_total %d\n", DecodeFailures.Load())
	fmt.Fprintf(w, "sink_db_write_success_total %d\n", DBWriteSuccess.Load())
	fmt.Fprintf(w, "sink_db_write_failures_total %d\n", DBWriteFailures.Load())
	fmt.Fprintf(w, "sink_db_channel_drops_total %d\n", DBChannelDrops.Load())
	fmt.Fprintf(w, "sink_state_channel_drops_total %d\n", StateChannelDrops.Load())
	fmt.Fprintf(w, "sink_alert_channel_drops_total %d\n", AlertChannelDrops.Load())
}
