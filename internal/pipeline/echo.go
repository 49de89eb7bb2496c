package pipeline

import (
	"sync"
	"time"
)

// EchoSet tracks message ids the gateway itself just sent, so the
// pipeline can suppress their echo when the transport replays them as
// fromMe events. Entries expire after a fixed TTL; a consumed entry is
// removed immediately so each id suppresses at most one echo.
type EchoSet struct {
	mu     sync.Mutex
	marks  map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
	done   chan struct{}
	closed bool
}

// NewEchoSet creates an EchoSet with the given TTL and starts a
// periodic sweep for entries whose echo never arrived.
func NewEchoSet(ttl time.Duration) *EchoSet {
	s := &EchoSet{
		marks: make(map[string]time.Time),
		ttl:   ttl,
		now:   time.Now,
		done:  make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Register marks a message id as self-originated.
func (s *EchoSet) Register(messageID string) {
	if messageID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[messageID] = s.now().Add(s.ttl)
}

// CheckAndConsume reports whether messageID was registered and not yet
// expired. A found entry is removed even when expired, so a given id
// suppresses at most one echo.
func (s *EchoSet) CheckAndConsume(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := s.marks[messageID]
	if !ok {
		return false
	}
	delete(s.marks, messageID)
	return s.now().Before(deadline)
}

// Len reports the number of live entries, expired ones included until
// the next sweep.
func (s *EchoSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.marks)
}

func (s *EchoSet) sweep() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for id, deadline := range s.marks {
				if now.After(deadline) {
					delete(s.marks, id)
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (s *EchoSet) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
