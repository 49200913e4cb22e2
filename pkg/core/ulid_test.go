package core

import (
	"testing"
	"time"
)

func TestIDGeneratorFixedClock(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	gen := NewIDGenerator(func() time.Time { return at }, 1)

	prev := gen.Next()
	for i := 0; i < 50; i++ {
		next := gen.Next()
		if next <= prev {
			t.Fatalf("expected %s > %s within one millisecond", next, prev)
		}
		prev = next
	}
	got, err := IDTime(prev)
	if err != nil {
		t.Fatalf("IDTime: %v", err)
	}
	if !got.Equal(at) {
		t.Fatalf("expected %v, got %v", at, got)
	}
}

func TestIDTimeRejectsGarbage(t *testing.T) {
	if _, err := IDTime("not-an-id"); err == nil {
		t.Fatal("expected error")
	}
}
