// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"
)

// Typed operation errors. Callers match with errors.Is.
var (
	ErrNodeNotFound   = errors.New("node not found")
	ErrTimeout        = errors.New("operation timed out")
	ErrSessionInvalid = errors.New("session invalid")
)

// ConnectionError reports a failure to reach the automation endpoint after
// exhausting the configured retry budget. It is recoverable: the connector
// keeps attempting to return to the subscribed state for process lifetime.
type ConnectionError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Quality is the transport-reported quality code of a data value.
type Quality string

const (
	QualityGood      Quality = "good"
	QualityUncertain Quality = "uncertain"
	QualityBad       Quality = "bad"
)

// DataValue is a single reading from the automation network:
// (value, qualityCode, sourceTimestamp).
type DataValue struct {
	Value           any
	Quality         Quality
	SourceTimestamp time.Time
}

// SecurityMode selects session security for the automation endpoint.
type SecurityMode string

const (
	SecurityNone        SecurityMode = "none"
	SecuritySign        SecurityMode = "sign"
	SecuritySignEncrypt SecurityMode = "sign-encrypt"
)

// SecurityConfig carries the session security mode, policy and certificate
// material. Signing modes require a valid certificate/key pair; the connector
// fails closed when validation fails.
type SecurityConfig struct {
	Mode           SecurityMode
	Policy         string // e.g., "Basic256Sha256"
	CertificatePEM []byte
	PrivateKeyPEM  []byte
}

// Validate checks the security configuration before any dial attempt.
func (s SecurityConfig) Validate() error {
	switch s.Mode {
	case "", SecurityNone:
		return nil
	case SecuritySign, SecuritySignEncrypt:
		if len(s.CertificatePEM) == 0 || len(s.PrivateKeyPEM) == 0 {
			return fmt.Errorf("security mode %q requires certificate and private key", s.Mode)
		}
		if _, err := tls.X509KeyPair(s.CertificatePEM, s.PrivateKeyPEM); err != nil {
			return fmt.Errorf("certificate validation failed: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown security mode %q", s.Mode)
	}
}

// Transport dials an automation endpoint and establishes a session.
// Implementations wrap a concrete industrial protocol stack; tests and the
// bundled agent use the in-memory simulator.
type Transport interface {
	Dial(ctx context.Context, endpointURL string, security SecurityConfig) (Session, error)
}

// Session is a live session against the automation server. Read, Write and
// Browse are synchronous diagnostic/control operations; Subscribe registers a
// change callback for a set of nodes.
type Session interface {
	Read(ctx context.Context, nodeID string) (DataValue, error)
	Write(ctx context.Context, nodeID string, value any) error
	Browse(ctx context.Context, nodeID string) ([]string, error)
	Subscribe(ctx context.Context, nodeIDs []string, onChange func(nodeID string, dv DataValue)) (Subscription, error)
	Close() error
}

// Subscription is an active data-change subscription. Transport failures
// surface on Err and terminate the subscription.
type Subscription interface {
	Err() <-chan error
	Close() error
}
