package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	ContentType  = "application/octet-stream"
	APIKeyHeader = "X-API-Key"

	tcpDialTimeout        = 5 * time.Second
	tcpKeepAliveInterval  = 30 * time.Second
	tlsHandshakeTimeout   = 5 * time.Second
	idleConnTimeout       = 90 * time.Second
	expectContinueTimeout = 1 * time.Second
)

var ErrTransport = errors.New("replay: transport failure")

// StatusError is a response other than 200 OK.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("replay: unexpected status %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrTransport }

// Sender delivers one encoded payload.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

type HTTPSenderConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// MaxConns sizes the idle connection pool; set it to the user count.
	MaxConns int
}

// HTTPSender POSTs payloads to a fixed endpoint over a pooled client.
type HTTPSender struct {
	client *http.Client
	url    string
	apiKey string
}

func NewHTTPSender(cfg HTTPSenderConfig) *HTTPSender {
	return &HTTPSender{
		client: newHTTPClient(cfg.Timeout, cfg.MaxConns),
		url:    cfg.URL,
		apiKey: cfg.APIKey,
	}
}

func newHTTPClient(timeout time.Duration, conns int) *http.Client {
	if conns <= 0 {
		conns = 100
	}
	transport := &http.Transport{
		MaxIdleConns:        conns,
		MaxIdleConnsPerHost: conns,
		MaxConnsPerHost:     conns * 2,
		IdleConnTimeout:     idleConnTimeout,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   tcpDialTimeout,
			KeepAlive: tcpKeepAliveInterval,
		}).DialContext,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: expectContinueTimeout,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

func (s *HTTPSender) Send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("replay: build request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	if s.apiKey != "" {
		req.Header.Set(APIKeyHeader, s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	// drain so the connection returns to the pool
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (s *HTTPSender) Close() {
	s.client.CloseIdleConnections()
}
