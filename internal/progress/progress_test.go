package progress

import (
	"testing"
	"time"
)

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore(time.Minute)

	s.Put("abc", Snapshot{ProgressPercent: 10, Message: "starting"}, NoExpiration)
	got, ok := s.Get("abc")
	if !ok {
		t.Fatal("expected snapshot")
	}
	if got.SessionID != "abc" || got.ProgressPercent != 10 {
		t.Errorf("got = %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}

	if _, ok := s.Get("unknown"); ok {
		t.Error("unknown session should not be found")
	}
}

func TestMemoryStore_CompletedExpires(t *testing.T) {
	s := NewMemoryStore(time.Hour)

	s.Put("abc", Snapshot{Completed: true, ProgressPercent: 100}, 20*time.Millisecond)
	if _, ok := s.Get("abc"); !ok {
		t.Fatal("expected snapshot before expiry")
	}

	time.Sleep(40 * time.Millisecond)
	if _, ok := s.Get("abc"); ok {
		t.Error("expected snapshot to expire")
	}
	s.Sweep()
	if n := len(s.c.Items()); n != 0 {
		t.Errorf("items after sweep = %d, want 0", n)
	}
}

func TestMemoryStore_RunningDoesNotExpire(t *testing.T) {
	s := NewMemoryStore(10 * time.Millisecond)
	s.Put("abc", Snapshot{Message: "working"}, NoExpiration)
	time.Sleep(30 * time.Millisecond)
	if _, ok := s.Get("abc"); !ok {
		t.Error("running session must not expire")
	}
}

func TestMemoryStore_ActiveAndDelete(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	s.Put("a", Snapshot{}, NoExpiration)
	s.Put("b", Snapshot{Completed: true}, time.Minute)
	if n := s.Active(); n != 1 {
		t.Errorf("Active = %d, want 1", n)
	}
	s.Delete("a")
	if n := s.Active(); n != 0 {
		t.Errorf("Active after delete = %d, want 0", n)
	}
}
