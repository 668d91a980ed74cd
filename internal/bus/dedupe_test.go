package bus

import (
	"testing"
	"time"
)

func TestShouldSkipDuplicate(t *testing.T) {
	d := NewDedupeCache(time.Minute, 10)

	if d.ShouldSkip("chat1", "m1") {
		t.Error("first delivery should not be skipped")
	}
	if !d.ShouldSkip("chat1", "m1") {
		t.Error("second delivery should be skipped")
	}
	// Same message id in another chat is independent.
	if d.ShouldSkip("chat2", "m1") {
		t.Error("same id in a different chat should not be skipped")
	}
}

func TestShouldSkipEmptyMessageID(t *testing.T) {
	d := NewDedupeCache(time.Minute, 10)
	if d.ShouldSkip("chat1", "") {
		t.Error("empty message id is never a duplicate")
	}
	if d.ShouldSkip("chat1", "") {
		t.Error("empty message id must not be recorded")
	}
	if d.Len("chat1") != 0 {
		t.Errorf("len = %d, want 0", d.Len("chat1"))
	}
}

func TestShouldSkipTTLExpiry(t *testing.T) {
	now := time.Now()
	d := NewDedupeCache(time.Minute, 10)
	d.now = func() time.Time { return now }

	d.ShouldSkip("chat1", "m1")
	now = now.Add(2 * time.Minute)

	if d.ShouldSkip("chat1", "m1") {
		t.Error("entry past TTL should be treated as fresh")
	}
}

func TestShouldSkipEvictsOldestBeyondCap(t *testing.T) {
	now := time.Now()
	d := NewDedupeCache(time.Hour, 3)
	d.now = func() time.Time { return now }

	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		now = now.Add(time.Second)
		d.ShouldSkip("chat1", id)
	}

	// m1 was the oldest beyond the cap; its re-delivery looks fresh now.
	now = now.Add(time.Second)
	if d.ShouldSkip("chat1", "m1") {
		t.Error("evicted entry should not be remembered")
	}
	// m4 is recent and still within the window.
	if !d.ShouldSkip("chat1", "m4") {
		t.Error("recent entry should still be remembered")
	}
}

func TestDedupeDropsEmptyChatBuckets(t *testing.T) {
	now := time.Now()
	d := NewDedupeCache(time.Minute, 10)
	d.now = func() time.Time { return now }

	d.ShouldSkip("chat1", "m1")
	now = now.Add(2 * time.Minute)

	// Triggering the sweep with a different chat's traffic does not touch
	// chat1; its bucket is dropped on its own next access.
	d.ShouldSkip("chat1", "m2")
	if d.Len("chat1") != 1 {
		t.Errorf("len = %d, want only the fresh entry", d.Len("chat1"))
	}
}
