// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"fmt"
)

// currentSession returns the active session or ErrSessionInvalid.
func (c *Connector) currentSession() (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || (c.state != StateSessionEstablished && c.state != StateSubscribed) {
		return nil, fmt.Errorf("connector is %s: %w", c.state, ErrSessionInvalid)
	}
	return c.session, nil
}

// Read performs a synchronous read of a single node for diagnostic use.
func (c *Connector) Read(ctx context.Context, nodeID string) (DataValue, error) {
	session, err := c.currentSession()
	if err != nil {
		return DataValue{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()
	return session.Read(ctx, nodeID)
}

// ReadWithRetry reads a node, retrying up to attempts times and re-raising
// the last error after exhausting them.
func (c *Connector) ReadWithRetry(ctx context.Context, nodeID string, attempts int) (DataValue, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		dv, err := c.Read(ctx, nodeID)
		if err == nil {
			return dv, nil
		}
		lastErr = err
		if err := sleepWithContext(ctx, c.config.ReconnectInitialDelay); err != nil {
			return DataValue{}, lastErr
		}
	}
	return DataValue{}, fmt.Errorf("read %s failed after %d attempt(s): %w", nodeID, attempts, lastErr)
}

// Write performs a synchronous write to a single node for control use.
func (c *Connector) Write(ctx context.Context, nodeID string, value any) error {
	session, err := c.currentSession()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()
	return session.Write(ctx, nodeID, value)
}

// Browse lists the children of a node in the server address space.
func (c *Connector) Browse(ctx context.Context, nodeID string) ([]string, error) {
	session, err := c.currentSession()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()
	return session.Browse(ctx, nodeID)
}
