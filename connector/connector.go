// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package connector maintains a live session against an industrial automation
// endpoint and turns subscribed data-point changes into journal events.
//
// The connector owns an explicit state machine (Disconnected → Connecting →
// SessionEstablished → Subscribed) with all transitions funneled through one
// guarded control point. Any transport error drops it back to Disconnected
// and triggers a bounded-backoff reconnect; there is no terminal state.
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plantops/edgesync/ingest"
	"github.com/plantops/edgesync/journal"
)

// State of the connector state machine.
type State string

const (
	StateDisconnected       State = "disconnected"
	StateConnecting         State = "connecting"
	StateSessionEstablished State = "session-established"
	StateSubscribed         State = "subscribed"
)

// Config holds connector configuration
type Config struct {
	EndpointURL           string
	Security              SecurityConfig
	Mappings              []TagMapping
	ReconnectInitialDelay time.Duration // 1s
	ReconnectMaxDelay     time.Duration // 60s
	ReconnectMaxRetries   int           // Attempts per connect round
	OpTimeout             time.Duration // Per Read/Write/Browse call
}

// DefaultConfig returns a default configuration for the given endpoint and
// tag mappings.
func DefaultConfig(endpointURL string, mappings []TagMapping) *Config {
	return &Config{
		EndpointURL:           endpointURL,
		Mappings:              mappings,
		ReconnectInitialDelay: 1 * time.Second,
		ReconnectMaxDelay:     60 * time.Second,
		ReconnectMaxRetries:   5,
		OpTimeout:             10 * time.Second,
	}
}

// Connector bridges the automation network and the journal.
type Connector struct {
	transport Transport
	journal   *journal.Journal
	config    *Config
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	session  Session
	sub      Subscription
	mappings map[string]TagMapping
	lastErr  error

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// NewConnector creates a connector. Tag mappings and security configuration
// are validated here, before any dial attempt.
func NewConnector(transport Transport, jrnl *journal.Journal, config *Config, logger *slog.Logger) (*Connector, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.EndpointURL == "" {
		return nil, fmt.Errorf("config.EndpointURL must be provided")
	}
	byNode, err := validateMappings(config.Mappings)
	if err != nil {
		return nil, fmt.Errorf("invalid tag mappings: %w", err)
	}
	// Fail closed: a broken certificate never reaches the wire
	if err := config.Security.Validate(); err != nil {
		return nil, fmt.Errorf("invalid security configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		transport: transport,
		journal:   jrnl,
		config:    config,
		logger:    logger,
		state:     StateDisconnected,
		mappings:  byNode,
	}, nil
}

// State returns the current state machine value.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsHealthy reports whether session and subscription are both active.
func (c *Connector) IsHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateSubscribed && c.session != nil && c.sub != nil
}

// LastError returns the most recent transport or append error, for diagnostics.
func (c *Connector) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect establishes transport, session and subscription for all configured
// tag mappings, retrying with exponential backoff up to the configured budget.
// Exhaustion returns a *ConnectionError. On success the connector is
// Subscribed and a monitor goroutine keeps it there for process lifetime.
func (c *Connector) Connect(ctx context.Context) error {
	if err := c.connectWithBudget(ctx); err != nil {
		return err
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.monitorCancel = cancel
	c.monitorDone = done
	sub := c.sub
	c.mu.Unlock()

	go c.monitor(monitorCtx, sub, done)
	return nil
}

// connectWithBudget performs one bounded round of connect attempts.
func (c *Connector) connectWithBudget(ctx context.Context) error {
	delay := c.config.ReconnectInitialDelay
	var lastErr error
	attempts := 0
	for attempts < c.config.ReconnectMaxRetries {
		attempts++
		if err := c.connectOnce(ctx); err != nil {
			lastErr = err
			c.logger.Warn("Connect attempt failed",
				"endpoint", c.config.EndpointURL, "attempt", attempts, "error", err)
			if err := sleepWithContext(ctx, delay); err != nil {
				return &ConnectionError{Endpoint: c.config.EndpointURL, Attempts: attempts, Err: err}
			}
			delay *= 2
			if delay > c.config.ReconnectMaxDelay {
				delay = c.config.ReconnectMaxDelay
			}
			continue
		}
		return nil
	}
	c.setError(lastErr)
	return &ConnectionError{Endpoint: c.config.EndpointURL, Attempts: attempts, Err: lastErr}
}

// connectOnce runs a single Disconnected → Subscribed transition sequence.
func (c *Connector) connectOnce(ctx context.Context) error {
	c.setState(StateConnecting)

	session, err := c.transport.Dial(ctx, c.config.EndpointURL, c.config.Security)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("failed to dial %s: %w", c.config.EndpointURL, err)
	}

	c.mu.Lock()
	c.session = session
	c.state = StateSessionEstablished
	c.mu.Unlock()

	nodeIDs := make([]string, 0, len(c.mappings))
	for nodeID := range c.mappings {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sub, err := session.Subscribe(ctx, nodeIDs, c.handleDataChange)
	if err != nil {
		_ = session.Close()
		c.mu.Lock()
		c.session = nil
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.mu.Lock()
	c.sub = sub
	c.state = StateSubscribed
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Info("Connector subscribed",
		"endpoint", c.config.EndpointURL, "nodes", len(nodeIDs))
	return nil
}

// monitor watches the active subscription and drives reconnection. Reconnect
// rounds are bounded by the retry budget; between failed rounds the connector
// stays Disconnected for the max delay and then tries again, so it always
// works its way back to Subscribed once the endpoint returns.
func (c *Connector) monitor(ctx context.Context, sub Subscription, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-sub.Err():
			if !ok {
				return
			}
			c.logger.Error("Transport error, reconnecting", "error", err)
			c.setError(err)
			c.teardown()

			for {
				if err := c.connectWithBudget(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					c.logger.Error("Reconnect round exhausted, will retry",
						"error", err, "retry_in", c.config.ReconnectMaxDelay)
					if sleepWithContext(ctx, c.config.ReconnectMaxDelay) != nil {
						return
					}
					continue
				}
				break
			}

			c.mu.Lock()
			sub = c.sub
			c.mu.Unlock()
		}
	}
}

// handleDataChange is the subscription callback: it normalizes the reading and
// appends it to the journal. A bad quality code never suppresses the event —
// downstream analytics must be able to tell missing data from zero values.
func (c *Connector) handleDataChange(nodeID string, dv DataValue) {
	m, ok := c.mappings[nodeID]
	if !ok {
		c.logger.Warn("Data change for unmapped node", "node_id", nodeID)
		return
	}

	value := dv.Value
	if m.ScaleFactor != 0 {
		if f, ok := toFloat(dv.Value); ok {
			value = f * m.ScaleFactor
		}
	}

	data := map[string]any{
		"metric":  m.Metric,
		"value":   value,
		"quality": string(dv.Quality),
	}
	if m.Unit != "" {
		data["unit"] = m.Unit
	}
	if dv.Quality == QualityBad {
		data["bad_quality"] = true
	}

	ts := dv.SourceTimestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.OpTimeout)
	defer cancel()
	_, err := c.journal.Append(ctx, journal.NewEvent{
		EventID:   uuid.New().String(),
		Timestamp: ts,
		AssetID:   m.AssetID,
		LineID:    m.LineID,
		Type:      ingest.TypeTelemetry,
		Data:      data,
	})
	if err != nil {
		// A lost reading cannot be reconstructed; surface loudly
		c.logger.Error("Failed to append reading to journal",
			"node_id", nodeID, "asset_id", m.AssetID, "error", err)
		c.setError(err)
	}
}

// Disconnect terminates subscription, session and transport in that order.
// Idempotent: safe to call when already disconnected.
func (c *Connector) Disconnect() error {
	c.mu.Lock()
	cancel := c.monitorCancel
	done := c.monitorDone
	c.monitorCancel = nil
	c.monitorDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.teardown()
	return nil
}

func (c *Connector) teardown() {
	c.mu.Lock()
	sub := c.sub
	session := c.session
	c.sub = nil
	c.session = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	if session != nil {
		_ = session.Close()
	}
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connector) setError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
