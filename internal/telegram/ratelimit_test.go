package telegram

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		op   string
		want callClass
	}{
		{"history", classRead},
		{"download", classRead},
		{"upload", classRead},
		{"send_text", classWrite},
		{"send_media", classWrite},
		{"invite", classWrite},
	}
	for _, tt := range tests {
		if got := classOf(tt.op); got != tt.want {
			t.Errorf("classOf(%q) = %v, want %v", tt.op, got, tt.want)
		}
	}
}

func TestRateLimiter_FirstCallIsImmediate(t *testing.T) {
	rl := NewRateLimiter(10.0, 1)

	start := time.Now()
	if err := rl.Wait(context.Background(), "history"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("expected immediate response, got %v", elapsed)
	}
}

func TestRateLimiter_ContextCanceled(t *testing.T) {
	rl := NewRateLimiter(0.1, 1) // one call per 10 seconds
	_ = rl.Wait(context.Background(), "history")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx, "history"); err == nil {
		t.Error("expected error due to context timeout, got nil")
	}
}

func TestRateLimiter_WritesArePacedSeparately(t *testing.T) {
	rl := NewRateLimiter(100.0, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := rl.Wait(ctx, "history"); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
	if err := rl.Wait(ctx, "send_text"); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// a second write inside the same second has to wait for the write bucket
	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := rl.Wait(short, "send_media"); err == nil {
		t.Error("expected the second write to be held back")
	}
}

func TestRateLimiter_FloodWaitBlocksItsClass(t *testing.T) {
	rl := NewRateLimiter(10.0, 1)
	rl.SetFloodWait("send_text", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx, "send_media"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded for a write, got %v", err)
	}

	start := time.Now()
	if err := rl.Wait(context.Background(), "history"); err != nil {
		t.Fatalf("read: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("reads should not wait on a write flood, took %v", elapsed)
	}
}

func TestRateLimiter_ExpiredFloodWait(t *testing.T) {
	rl := NewRateLimiter(10.0, 1)
	rl.floodUntil[classRead] = time.Now().Add(-100 * time.Millisecond)

	start := time.Now()
	if err := rl.Wait(context.Background(), "history"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("expected immediate response after expired flood wait, got %v", elapsed)
	}
}

func TestRateLimiter_SetFloodWaitNeverShortens(t *testing.T) {
	rl := NewRateLimiter(10.0, 1)

	rl.SetFloodWait("invite", time.Minute)
	long := rl.floodUntil[classWrite]
	rl.SetFloodWait("invite", time.Second)

	if !rl.floodUntil[classWrite].Equal(long) {
		t.Errorf("shorter flood wait replaced a longer one: %v -> %v", long, rl.floodUntil[classWrite])
	}
}

func TestNewRateLimiter_InvalidSettings(t *testing.T) {
	rl := NewRateLimiter(0, 0)

	if err := rl.Wait(context.Background(), "history"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
