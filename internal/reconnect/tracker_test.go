package reconnect

import (
	"testing"
	"time"
)

func TestTracker_ActiveLifecycle(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	if tr.IsActive("u1", "github") {
		t.Fatal("fresh tracker should have no active pairs")
	}

	tr.SetActive("u1", "github")
	if !tr.IsActive("u1", "github") {
		t.Error("pair should be active after SetActive")
	}
	if !tr.IsStillReconnecting("u1", "github") {
		t.Error("fresh activation should still be reconnecting")
	}
	if tr.IsActive("u1", "jira") {
		t.Error("different server must not be active")
	}
	if tr.IsActive("u2", "github") {
		t.Error("different user must not be active")
	}

	tr.ClearActive("u1", "github")
	if tr.IsActive("u1", "github") {
		t.Error("pair should not be active after ClearActive")
	}
}

func TestTracker_Staleness(t *testing.T) {
	tr := NewTracker(TrackerConfig{StalenessWindow: 50 * time.Millisecond})

	tr.SetActive("u1", "github")
	time.Sleep(80 * time.Millisecond)

	// Stale: derived check flips but the flag stays until cleanup.
	if tr.IsStillReconnecting("u1", "github") {
		t.Error("stale activation should not report still reconnecting")
	}
	if !tr.IsActive("u1", "github") {
		t.Error("stale activation should remain in the active set")
	}

	if !tr.CleanupIfTimedOut("u1", "github") {
		t.Error("cleanup should evict a stale activation")
	}
	if tr.IsActive("u1", "github") {
		t.Error("pair should be gone after cleanup")
	}
}

func TestTracker_CleanupIgnoresFreshActivation(t *testing.T) {
	tr := NewTracker(TrackerConfig{})

	tr.SetActive("u1", "github")
	if tr.CleanupIfTimedOut("u1", "github") {
		t.Error("cleanup must not evict a fresh activation")
	}
	if tr.CleanupIfTimedOut("u1", "jira") {
		t.Error("cleanup of an unknown pair reports false")
	}
}

func TestTracker_SetActiveOverwritesTimestamp(t *testing.T) {
	tr := NewTracker(TrackerConfig{StalenessWindow: 80 * time.Millisecond})

	tr.SetActive("u1", "github")
	time.Sleep(50 * time.Millisecond)
	tr.SetActive("u1", "github")
	time.Sleep(50 * time.Millisecond)

	// 100ms after the first activation but only 50ms after the overwrite.
	if !tr.IsStillReconnecting("u1", "github") {
		t.Error("overwritten activation timestamp should reset staleness")
	}
}

func TestTracker_FailedSticky(t *testing.T) {
	tr := NewTracker(TrackerConfig{StalenessWindow: 10 * time.Millisecond})

	tr.SetFailed("u1", "github")
	time.Sleep(30 * time.Millisecond)

	// Failure does not age out on its own.
	if !tr.IsFailed("u1", "github") {
		t.Error("failed mark must be sticky")
	}

	tr.RemoveFailed("u1", "github")
	if tr.IsFailed("u1", "github") {
		t.Error("failed mark should be gone after RemoveFailed")
	}
}

func TestTracker_FailedTTL(t *testing.T) {
	tr := NewTracker(TrackerConfig{FailedTTL: 50 * time.Millisecond})

	tr.SetFailed("u1", "github")
	if !tr.IsFailed("u1", "github") {
		t.Fatal("pair should be failed immediately after SetFailed")
	}

	time.Sleep(80 * time.Millisecond)
	if tr.IsFailed("u1", "github") {
		t.Error("failed mark should age out with a FailedTTL configured")
	}
}
