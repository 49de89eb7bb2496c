package pipeline

import (
	"testing"
	"time"
)

func TestEchoConsumeOnce(t *testing.T) {
	s := NewEchoSet(30 * time.Second)
	defer s.Close()

	s.Register("msg-1")
	if !s.CheckAndConsume("msg-1") {
		t.Fatal("first check should consume the marker")
	}
	if s.CheckAndConsume("msg-1") {
		t.Fatal("second check must miss, marker already consumed")
	}
}

func TestEchoUnknownID(t *testing.T) {
	s := NewEchoSet(30 * time.Second)
	defer s.Close()

	if s.CheckAndConsume("never-registered") {
		t.Fatal("unknown id must not match")
	}
}

func TestEchoTTLExpiry(t *testing.T) {
	s := NewEchoSet(30 * time.Second)
	defer s.Close()

	now := time.Now()
	s.now = func() time.Time { return now }
	s.Register("msg-1")

	// Same id arriving after the TTL is a genuine new message.
	s.now = func() time.Time { return now.Add(31 * time.Second) }
	if s.CheckAndConsume("msg-1") {
		t.Fatal("expired marker must not suppress")
	}

	// And the id can be registered again afterwards.
	s.Register("msg-1")
	if !s.CheckAndConsume("msg-1") {
		t.Fatal("re-registered marker should suppress once more")
	}
}

func TestEchoEmptyID(t *testing.T) {
	s := NewEchoSet(30 * time.Second)
	defer s.Close()

	s.Register("")
	if s.Len() != 0 {
		t.Fatal("empty ids must not be tracked")
	}
}
