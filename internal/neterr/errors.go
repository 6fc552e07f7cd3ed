// Package neterr defines the typed error taxonomy for the network layer:
// Transport, Protocol, Policy, Timing and Internal error kinds, each
// carrying operation/target/timing context rather than a bare string.
package neterr

import (
	"fmt"
	"time"
)

// Kind classifies an error into one of the taxonomy buckets named by the
// network layer's error-handling design.
type Kind string

const (
	KindTransport Kind = "transport"
	KindProtocol  Kind = "protocol"
	KindPolicy    Kind = "policy"
	KindTiming    Kind = "timing"
	KindInternal  Kind = "internal"
)

// TransportError covers connect failure, read/write EOF, TLS handshake
// failure and address resolution failure.
type TransportError struct {
	Err       error
	Operation string
	Host      string
	Port      int
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed for %s:%d: %v", e.Operation, e.Host, e.Port, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Kind() Kind    { return KindTransport }

func NewTransportError(operation, host string, port int, err error) *TransportError {
	return &TransportError{Operation: operation, Host: host, Port: port, Err: err}
}

// ProtocolError covers invalid SOCKS reply bytes, non-200 CONNECT
// status, frame-too-short, invalid chunked size, invalid WebSocket
// length extension, HTTP/3 varint under-run.
type ProtocolError struct {
	Err     error
	Stage   string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error during %s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("protocol error during %s: %s", e.Stage, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
func (e *ProtocolError) Kind() Kind    { return KindProtocol }

func NewProtocolError(stage, message string, err error) *ProtocolError {
	return &ProtocolError{Stage: stage, Message: message, Err: err}
}

// PolicyError covers pool exhausted, resource exhausted, circuit open,
// rate limited.
type PolicyError struct {
	Err    error
	Policy string
	Detail string
}

func (e *PolicyError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("policy %s: %s", e.Policy, e.Detail)
	}
	return fmt.Sprintf("policy %s rejected the operation", e.Policy)
}

func (e *PolicyError) Unwrap() error { return e.Err }
func (e *PolicyError) Kind() Kind    { return KindPolicy }

func NewPolicyError(policy, detail string, err error) *PolicyError {
	return &PolicyError{Policy: policy, Detail: detail, Err: err}
}

// TimingError covers deadline exceeded, idle timeout, pong timeout.
type TimingError struct {
	Operation string
	Budget    time.Duration
	Elapsed   time.Duration
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("%s exceeded deadline of %s (elapsed %s)", e.Operation, e.Budget, e.Elapsed)
}

func (e *TimingError) Kind() Kind { return KindTiming }

func NewTimingError(operation string, budget, elapsed time.Duration) *TimingError {
	return &TimingError{Operation: operation, Budget: budget, Elapsed: elapsed}
}

// InternalError covers invariant violations, logged and re-surfaced to
// callers as Policy or Transport errors per the propagation rule.
type InternalError struct {
	Err       error
	Invariant string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("invariant violated: %s: %v", e.Invariant, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }
func (e *InternalError) Kind() Kind    { return KindInternal }

func NewInternalError(invariant string, err error) *InternalError {
	return &InternalError{Invariant: invariant, Err: err}
}
