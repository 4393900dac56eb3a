package ingest

import (
	"strings"
	"sync"
)

// Subscriptions tracks which requested paths the server has delivered so far in this session.
//
// A subscription is confirmed by the first event whose path contains it as a
// substring, so a longer unrelated path can confirm a shorter subscription.
type Subscriptions struct {
	mu        sync.Mutex
	paths     []string
	confirmed map[string]bool
}

// NewSubscriptions creates a tracker with every path unconfirmed.
func NewSubscriptions(paths []string) *Subscriptions {
	s := &Subscriptions{
		paths:     append([]string(nil), paths...),
		confirmed: make(map[string]bool, len(paths)),
	}
	for _, p := range paths {
		s.confirmed[p] = false
	}
	return s
}

// Confirm marks the first unconfirmed subscription contained in eventPath.
// It returns that subscription and true when one was newly confirmed.
func (s *Subscriptions) Confirm(eventPath string) (string, bool) {
	if eventPath == "" {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.paths {
		if !s.confirmed[p] && strings.Contains(eventPath, p) {
			s.confirmed[p] = true
			return p, true
		}
	}
	return "", false
}

// Unconfirmed fills dst with pending subscriptions in request order and returns it.
func (s *Subscriptions) Unconfirmed(dst []string) []string {
	s.mu.Lock()
	dst = dst[:0]
	for _, p := range s.paths {
		if !s.confirmed[p] {
			dst = append(dst, p)
		}
	}
	s.mu.Unlock()
	return dst
}

// AllConfirmed reports whether every subscription was seen.
func (s *Subscriptions) AllConfirmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ok := range s.confirmed {
		if !ok {
			return false
		}
	}
	return true
}

// Reset marks every subscription unconfirmed.
func (s *Subscriptions) Reset() {
	s.mu.Lock()
	for p := range s.confirmed {
		s.confirmed[p] = false
	}
	s.mu.Unlock()
}

// Count returns the number of subscriptions.
func (s *Subscriptions) Count() int {
	return len(s.paths)
}
