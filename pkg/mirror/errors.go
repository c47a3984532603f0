package mirror

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidEvent indicates that an event does not satisfy payload invariants.
	ErrInvalidEvent = errors.New("mirror: invalid event")
	// ErrInvalidPeer indicates a peer with an unknown kind or missing id.
	ErrInvalidPeer = errors.New("mirror: invalid peer")
	// ErrInvalidCredential indicates a credential that selects no single login flow.
	ErrInvalidCredential = errors.New("mirror: invalid credential")
	// ErrInvalidQuery indicates a history query without a direction or a positive limit.
	ErrInvalidQuery = errors.New("mirror: invalid history query")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("mirror: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription or bus is no longer active.
	ErrSubscriptionClosed = errors.New("mirror: subscription closed")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("mirror: event dropped due to backpressure")
	// ErrSelfAlreadySet indicates a second attempt to set the client's own identity.
	ErrSelfAlreadySet = errors.New("mirror: self already set")
	// ErrNotReady indicates an operation attempted before bootstrap started.
	ErrNotReady = errors.New("mirror: client not ready")
	// ErrAlreadyRunning indicates a second Run call on the same client.
	ErrAlreadyRunning = errors.New("mirror: client already running")
	// ErrStopped indicates an operation attempted after shutdown.
	ErrStopped = errors.New("mirror: client stopped")
	// ErrUnsupported indicates that the backend does not implement an optional capability.
	ErrUnsupported = errors.New("mirror: operation unsupported by backend")
	// ErrDriverAlreadyRegistered indicates duplicate backend type registration.
	ErrDriverAlreadyRegistered = errors.New("mirror: driver already registered")
)

// AuthorizationError reports a failed bootstrap login. The client is unusable
// afterwards.
type AuthorizationError struct {
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *AuthorizationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return "authorization failed"
	}

	return "authorization failed: " + e.Cause.Error()
}

// Unwrap returns the wrapped root cause.
func (e *AuthorizationError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// ResolutionError reports a failed batched backfill of missing references.
type ResolutionError struct {
	// Refs are the references the failed call tried to load.
	Refs []Ref
	// Cause is the remote failure.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *ResolutionError) Error() string {
	if e == nil {
		return "<nil>"
	}

	peers := make([]string, 0, len(e.Refs))
	for _, ref := range e.Refs {
		peers = append(peers, ref.Peer().String())
	}
	summary := fmt.Sprintf("resolve %d references [%s]", len(e.Refs), strings.Join(peers, " "))
	if e.Cause == nil {
		return summary
	}

	return summary + ": " + e.Cause.Error()
}

// Unwrap returns the wrapped root cause.
func (e *ResolutionError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// UnresolvedReferenceError reports a peer whose entity or access hash was never
// cached.
type UnresolvedReferenceError struct {
	Peer Peer
	// Reason says which piece is missing.
	Reason string
}

// Error returns one operator-readable failure summary.
func (e *UnresolvedReferenceError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Reason == "" {
		return "unresolved reference " + e.Peer.String()
	}

	return "unresolved reference " + e.Peer.String() + ": " + e.Reason
}

// SubscriptionError reports an abnormal end of the live update stream.
type SubscriptionError struct {
	// Attempt counts consecutive failures since the last successful open.
	Attempt int
	Cause   error
}

// Error returns one operator-readable failure summary.
func (e *SubscriptionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	summary := fmt.Sprintf("update subscription failed (attempt %d)", e.Attempt)
	if e.Cause == nil {
		return summary
	}

	return summary + ": " + e.Cause.Error()
}

// Unwrap returns the wrapped root cause.
func (e *SubscriptionError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// AsAuthorizationError extracts one AuthorizationError from wrapped error chains.
func AsAuthorizationError(err error) (*AuthorizationError, bool) {
	var target *AuthorizationError
	if err != nil && errors.As(err, &target) {
		return target, true
	}

	return nil, false
}

// AsResolutionError extracts one ResolutionError from wrapped error chains.
func AsResolutionError(err error) (*ResolutionError, bool) {
	var target *ResolutionError
	if err != nil && errors.As(err, &target) {
		return target, true
	}

	return nil, false
}

// AsUnresolvedReferenceError extracts one UnresolvedReferenceError from wrapped error chains.
func AsUnresolvedReferenceError(err error) (*UnresolvedReferenceError, bool) {
	var target *UnresolvedReferenceError
	if err != nil && errors.As(err, &target) {
		return target, true
	}

	return nil, false
}

// AsSubscriptionError extracts one SubscriptionError from wrapped error chains.
func AsSubscriptionError(err error) (*SubscriptionError, bool) {
	var target *SubscriptionError
	if err != nil && errors.As(err, &target) {
		return target, true
	}

	return nil, false
}
