package server

import (
	"testing"
	"time"
)

func TestTokenBucketExhaustsBurst(t *testing.T) {
	bucket := newTokenBucket(1, 2)
	if !bucket.Allow() || !bucket.Allow() {
		t.Fatal("expected burst capacity to be available")
	}
	if bucket.Allow() {
		t.Fatal("expected bucket to be exhausted")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	bucket := newTokenBucket(100, 1)
	if !bucket.Allow() {
		t.Fatal("expected first request to pass")
	}
	if bucket.Allow() {
		t.Fatal("expected bucket to be empty")
	}
	time.Sleep(20 * time.Millisecond)
	if !bucket.Allow() {
		t.Fatal("expected bucket to refill")
	}
}

func TestRateLimiterDisabledByDefault(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})
	if !rl.AllowRequest() {
		t.Fatal("expected unlimited requests when no global cap is set")
	}
	allowed, _, err := rl.AllowUpload("10.0.0.1")
	if err != nil || !allowed {
		t.Fatalf("expected upload to pass, got %v %v", allowed, err)
	}
}

func TestRateLimiterPerIPUploads(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{UploadLimit: 2, UploadWindow: time.Minute})

	for i := 0; i < 2; i++ {
		allowed, _, err := rl.AllowUpload("10.0.0.1")
		if err != nil {
			t.Fatalf("AllowUpload: %v", err)
		}
		if !allowed {
			t.Fatalf("expected upload %d to pass", i+1)
		}
	}
	allowed, retryAfter, err := rl.AllowUpload("10.0.0.1")
	if err != nil {
		t.Fatalf("AllowUpload: %v", err)
	}
	if allowed {
		t.Fatal("expected third upload to be throttled")
	}
	if retryAfter <= 0 {
		t.Fatal("expected a retry hint")
	}

	// A different client still has headroom.
	allowed, _, err = rl.AllowUpload("10.0.0.2")
	if err != nil || !allowed {
		t.Fatalf("expected other client to pass, got %v %v", allowed, err)
	}
}

func TestRateLimiterCleansStaleBuckets(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{UploadLimit: 1, UploadWindow: 10 * time.Millisecond})
	if allowed, _, _ := rl.AllowUpload("10.0.0.1"); !allowed {
		t.Fatal("expected first upload to pass")
	}

	rl.uploadMu.Lock()
	rl.uploadBuckets["10.0.0.1"].lastSeen = time.Now().Add(-time.Minute)
	rl.uploadMu.Unlock()

	if allowed, _, _ := rl.AllowUpload("10.0.0.2"); !allowed {
		t.Fatal("expected second client to pass")
	}

	rl.uploadMu.Lock()
	_, exists := rl.uploadBuckets["10.0.0.1"]
	rl.uploadMu.Unlock()
	if exists {
		t.Fatal("expected stale bucket to be evicted")
	}
}
