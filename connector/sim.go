// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// SimTransport is an in-memory automation server used by tests and by the
// bundled agent when no real endpoint is available. Node IDs are slash paths
// (e.g., "line1/press/temperature").
type SimTransport struct {
	mu        sync.Mutex
	failDials int
	session   *SimSession
}

// NewSimTransport creates an empty simulator.
func NewSimTransport() *SimTransport {
	return &SimTransport{}
}

// FailNextDials makes the next n Dial calls fail, for reconnect testing.
func (t *SimTransport) FailNextDials(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failDials = n
}

// Session returns the most recently dialed session, or nil.
func (t *SimTransport) Session() *SimSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Dial implements Transport.
func (t *SimTransport) Dial(_ context.Context, endpointURL string, _ SecurityConfig) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failDials > 0 {
		t.failDials--
		return nil, fmt.Errorf("simulated dial failure to %s", endpointURL)
	}
	t.session = &SimSession{nodes: make(map[string]DataValue)}
	return t.session, nil
}

// SimSession is a live simulated session.
type SimSession struct {
	mu     sync.Mutex
	nodes  map[string]DataValue
	sub    *simSubscription
	closed bool
}

// SetNode sets a node value and notifies any active subscription covering it.
func (s *SimSession) SetNode(nodeID string, value any, quality Quality) {
	s.mu.Lock()
	dv := DataValue{Value: value, Quality: quality, SourceTimestamp: time.Now()}
	s.nodes[nodeID] = dv
	sub := s.sub
	s.mu.Unlock()

	if sub != nil && sub.covers(nodeID) {
		sub.onChange(nodeID, dv)
	}
}

// FailTransport simulates a transport drop: the subscription reports err and
// the session closes.
func (s *SimSession) FailTransport(err error) {
	s.mu.Lock()
	sub := s.sub
	s.closed = true
	s.mu.Unlock()
	if sub != nil {
		sub.fail(err)
	}
}

// Read implements Session.
func (s *SimSession) Read(ctx context.Context, nodeID string) (DataValue, error) {
	if err := ctx.Err(); err != nil {
		return DataValue{}, fmt.Errorf("read %s: %w", nodeID, ErrTimeout)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return DataValue{}, ErrSessionInvalid
	}
	dv, ok := s.nodes[nodeID]
	if !ok {
		return DataValue{}, fmt.Errorf("read %s: %w", nodeID, ErrNodeNotFound)
	}
	return dv, nil
}

// Write implements Session.
func (s *SimSession) Write(ctx context.Context, nodeID string, value any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("write %s: %w", nodeID, ErrTimeout)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionInvalid
	}
	s.mu.Unlock()
	s.SetNode(nodeID, value, QualityGood)
	return nil
}

// Browse implements Session: children are node IDs one path segment below.
func (s *SimSession) Browse(_ context.Context, nodeID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionInvalid
	}
	prefix := ""
	if nodeID != "" {
		prefix = nodeID + "/"
	}
	var children []string
	for id := range s.nodes {
		if nodeID == "" || strings.HasPrefix(id, prefix) {
			children = append(children, id)
		}
	}
	sort.Strings(children)
	return children, nil
}

// Subscribe implements Session. One subscription per session.
func (s *SimSession) Subscribe(_ context.Context, nodeIDs []string, onChange func(string, DataValue)) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionInvalid
	}
	covered := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		covered[id] = true
	}
	s.sub = &simSubscription{
		covered:  covered,
		onChange: onChange,
		errCh:    make(chan error, 1),
	}
	return s.sub, nil
}

// Close implements Session.
func (s *SimSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type simSubscription struct {
	mu       sync.Mutex
	covered  map[string]bool
	onChange func(string, DataValue)
	errCh    chan error
	closed   bool
}

func (s *simSubscription) covers(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.covered[nodeID]
}

func (s *simSubscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *simSubscription) Err() <-chan error { return s.errCh }

func (s *simSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
