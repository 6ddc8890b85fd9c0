package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"container-telemetry/loadgen/internal/config"
)

type fakeLookup struct {
	keys  map[string]string
	calls int
	err   error
}

func (f *fakeLookup) GetAPIKey(_ context.Context, key string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.keys[key], nil
}

func TestValidateStaticKeys(t *testing.T) {
	a := NewAuthenticator(&config.Config{ValidAPIKeys: []string{"static", ""}}, nil)
	ctx := context.Background()

	if !a.Validate(ctx, "static") {
		t.Fatal("static key rejected")
	}
	if a.Validate(ctx, "other") || a.Validate(ctx, "") {
		t.Fatal("unknown key accepted")
	}
	if a.Open() {
		t.Fatal("authenticator with static keys reported open")
	}
}

func TestValidateCachesLookups(t *testing.T) {
	lookup := &fakeLookup{keys: map[string]string{"k1": "LMCU0000001"}}
	a := NewAuthenticator(&config.Config{AuthCacheTTLSeconds: 60}, lookup)
	now := time.Date(2026, 5, 18, 10, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !a.Validate(ctx, "k1") {
			t.Fatal("registered key rejected")
		}
	}
	if lookup.calls != 1 {
		t.Fatalf("lookups = %d, want 1", lookup.calls)
	}

	now = now.Add(2 * time.Minute)
	if !a.Validate(ctx, "k1") || lookup.calls != 2 {
		t.Fatalf("expired entry not refreshed, lookups = %d", lookup.calls)
	}
}

func TestValidateLookupError(t *testing.T) {
	a := NewAuthenticator(&config.Config{}, &fakeLookup{err: errors.New("redis down")})
	if a.Validate(context.Background(), "k1") {
		t.Fatal("key accepted on lookup error")
	}
}

func TestOpenWithoutKeySources(t *testing.T) {
	if !NewAuthenticator(&config.Config{}, nil).Open() {
		t.Fatal("expected open authenticator")
	}
}
