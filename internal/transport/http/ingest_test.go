package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"container-telemetry/loadgen/internal/auth"
	"container-telemetry/loadgen/internal/codec"
	"container-telemetry/loadgen/internal/config"
	"container-telemetry/loadgen/internal/domain"
	"container-telemetry/loadgen/internal/metrics"
)

type captureDispatcher struct {
	mu   sync.Mutex
	msgs []*domain.TelemetryMessage
}

func (c *captureDispatcher) Dispatch(msg *domain.TelemetryMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func payload(t *testing.T) []byte {
	t.Helper()
	enc, err := codec.Encode(domain.ContainerTelemetry{
		SubscriberID: "393600504912",
		ContainerID:  "LMCU0012345",
		Timestamp:    "180526 101530.0",
		BatteryPct:   88,
		Temperature:  21.5,
		Door:         domain.DoorClosed,
	})
	if err != nil {
		t.Fatal(err)
	}
	return enc.Bytes
}

func TestIngestAcceptsValidMessage(t *testing.T) {
	d := &captureDispatcher{}
	h := NewIngestHandler(d, 0, nil)
	before := metrics.MessagesReceived.Load()
	body := payload(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/container-data", bytes.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(d.msgs) != 1 {
		t.Fatalf("dispatched %d messages", len(d.msgs))
	}
	got := d.msgs[0]
	if got.Record.ContainerID != "LMCU0012345" || got.Record.BatteryPct != 88 {
		t.Fatalf("record = %+v", got.Record)
	}
	if !bytes.Equal(got.RawPayload, body) {
		t.Fatal("raw payload not kept")
	}
	if metrics.MessagesReceived.Load()-before != 1 {
		t.Fatal("received counter not bumped")
	}
}

func TestIngestRejects(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   []byte
		want   int
	}{
		{"get", http.MethodGet, nil, http.StatusMethodNotAllowed},
		{"garbage", http.MethodPost, []byte{0x80}, http.StatusBadRequest},
		{"empty", http.MethodPost, nil, http.StatusBadRequest},
		{"too large", http.MethodPost, bytes.Repeat([]byte{0x0a}, 64), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &captureDispatcher{}
			h := NewIngestHandler(d, 32, nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, "/container-data", bytes.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if len(d.msgs) != 0 {
				t.Fatal("rejected request was dispatched")
			}
		})
	}
}

func TestMuxEnforcesAPIKey(t *testing.T) {
	d := &captureDispatcher{}
	a := auth.NewAuthenticator(&config.Config{ValidAPIKeys: []string{"secret"}}, nil)
	srv := httptest.NewServer(NewMux("/container-data", NewIngestHandler(d, 0, nil), NewAuthMiddleware(a)))
	defer srv.Close()

	post := func(key string) int {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/container-data", bytes.NewReader(payload(t)))
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := post(""); got != http.StatusUnauthorized {
		t.Fatalf("no key: %d", got)
	}
	if got := post("wrong"); got != http.StatusUnauthorized {
		t.Fatalf("wrong key: %d", got)
	}
	if got := post("secret"); got != http.StatusOK {
		t.Fatalf("valid key: %d", got)
	}

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}
}

func TestOpenAuthenticatorPassesThrough(t *testing.T) {
	d := &captureDispatcher{}
	a := auth.NewAuthenticator(&config.Config{}, nil)
	h := NewAuthMiddleware(a).Wrap(NewIngestHandler(d, 0, nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/container-data", bytes.NewReader(payload(t))))
	if rec.Code != http.StatusOK || len(d.msgs) != 1 {
		t.Fatalf("status = %d, dispatched %d", rec.Code, len(d.msgs))
	}
}
