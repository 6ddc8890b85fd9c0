package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"container-telemetry/loadgen/internal/codec"
	"container-telemetry/loadgen/internal/domain"
	"container-telemetry/loadgen/internal/metrics"
)

// DefaultMaxBodyBytes bounds a single ContainerData message.
const DefaultMaxBodyBytes = 4096

type Dispatcher interface {
	Dispatch(msg *domain.TelemetryMessage)
}

// IngestHandler accepts POSTed ContainerData protobuf messages.
type IngestHandler struct {
	dispatcher Dispatcher
	maxBody    int64
	logger     *zap.Logger
}

func NewIngestHandler(d Dispatcher, maxBody int64, logger *zap.Logger) *IngestHandler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{dispatcher: d, maxBody: maxBody, logger: logger}
}

func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read failed")
		return
	}

	rec, err := codec.Decode(body)
	if err != nil {
		metrics.DecodeFailures.Add(1)
		if ce := h.logger.Check(zap.DebugLevel, "decode failed"); ce != nil {
			ce.Write(zap.Int("size", len(body)), zap.Error(err))
		}
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	metrics.MessagesReceived.Add(1)
	h.dispatcher.Dispatch(&domain.TelemetryMessage{
		ReceivedAt: time.Now().UTC(),
		Record:     rec,
		RawPayload: body,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// NewMux routes the ingest path through auth and exposes /metrics and /healthz.
func NewMux(path string, ingest http.Handler, mw *AuthMiddleware) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(path, mw.Wrap(ingest))
	mux.HandleFunc("/metrics", metrics.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}
