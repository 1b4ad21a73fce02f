package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestAllowPermitsUpToBurstLimit(t *testing.T) {
	l := New(Config{BurstLimit: 3, BurstWindow: time.Second, LongLimit: 100, LongWindow: time.Minute, MaxListSize: 100})
	now := time.Unix(1000, 0)
	for i := 0; i < 3; i++ {
		if !l.Allow("203.0.113.5", now) {
			t.Fatalf("request %d unexpectedly denied", i)
		}
	}
	if l.Allow("203.0.113.5", now) {
		t.Fatalf("4th request within the burst window should be denied")
	}
}

func TestAllowResetsAfterBurstWindowElapses(t *testing.T) {
	l := New(Config{BurstLimit: 1, BurstWindow: time.Second, LongLimit: 100, LongWindow: time.Minute, MaxListSize: 100})
	now := time.Unix(1000, 0)
	if !l.Allow("203.0.113.5", now) {
		t.Fatalf("first request should be allowed")
	}
	if l.Allow("203.0.113.5", now) {
		t.Fatalf("second request in the same instant should be denied")
	}
	later := now.Add(2 * time.Second)
	if !l.Allow("203.0.113.5", later) {
		t.Fatalf("request after the burst window should be allowed again")
	}
}

func TestAllowExemptsPrivateAddresses(t *testing.T) {
	l := New(Config{BurstLimit: 0, BurstWindow: time.Second, LongLimit: 0, LongWindow: time.Minute, MaxListSize: 100})
	now := time.Unix(1000, 0)
	if !l.Allow("10.0.0.5", now) {
		t.Fatalf("private address should bypass the limiter entirely")
	}
}

func TestClientIPBypassesWithoutForwardedFor(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/stream", nil)
	if _, present := ClientIP(req); present {
		t.Fatalf("expected no client IP without X-Forwarded-For")
	}
}

func TestClientIPTakesFirstHopOnly(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "/stream", nil)
	req.Header.Set("X-Forwarded-For", " 198.51.100.9 , 10.0.0.1")
	ip, present := ClientIP(req)
	if !present || ip != "198.51.100.9" {
		t.Fatalf("expected first hop 198.51.100.9, got %q present=%v", ip, present)
	}
}
