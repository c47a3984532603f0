package mirror

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RemoteOperation identifies one remote call type.
type RemoteOperation string

const (
	RemoteOperationAuthorize        RemoteOperation = "authorize"
	RemoteOperationFetchDialogIndex RemoteOperation = "fetch_dialog_index"
	RemoteOperationLoadDialogs      RemoteOperation = "load_dialogs"
	RemoteOperationLoadEntities     RemoteOperation = "load_referenced_entities"
	RemoteOperationLoadGroupMembers RemoteOperation = "load_group_members"
	RemoteOperationGetParameters    RemoteOperation = "get_parameters"
	RemoteOperationEditParameter    RemoteOperation = "edit_parameter"
	RemoteOperationSubscribe        RemoteOperation = "subscribe_updates"
	RemoteOperationGetState         RemoteOperation = "get_state"
	RemoteOperationGetDifference    RemoteOperation = "get_difference"
	RemoteOperationSendText         RemoteOperation = "send_text"
	RemoteOperationEditText         RemoteOperation = "edit_text"
	RemoteOperationDeleteMessage    RemoteOperation = "delete_message"
	RemoteOperationReadMessages     RemoteOperation = "read_messages"
	RemoteOperationSearchContacts   RemoteOperation = "search_contacts"
	RemoteOperationLoadHistory      RemoteOperation = "load_history"
	RemoteOperationLoadUserProfile  RemoteOperation = "load_user_profile"
	RemoteOperationCreateGroup      RemoteOperation = "create_group"
)

// RemoteErrorKind describes coarse-grained remote failure classification.
type RemoteErrorKind string

const (
	// RemoteErrorKindRateLimited indicates server-side rate limiting.
	RemoteErrorKindRateLimited RemoteErrorKind = "rate_limited"
	// RemoteErrorKindTemporary indicates a transient failure.
	RemoteErrorKindTemporary RemoteErrorKind = "temporary"
	// RemoteErrorKindPermanent indicates a failure that will repeat.
	RemoteErrorKindPermanent RemoteErrorKind = "permanent"
	// RemoteErrorKindUnknown indicates unclassified failure.
	RemoteErrorKindUnknown RemoteErrorKind = "unknown"
)

// RemoteCallError carries structured metadata for one failed one-shot remote call.
//
// The core never retries these; Kind and RetryAfter exist for callers that do.
type RemoteCallError struct {
	// Operation identifies which remote call failed.
	Operation RemoteOperation
	// Kind classifies whether and how callers could retry.
	Kind RemoteErrorKind
	// RetryAfter carries suggested retry delay for rate-limited failures when known.
	RetryAfter time.Duration
	// Code carries the server RPC code when known.
	Code int
	// Type carries the server error type token when known.
	Type string
	// Cause is the wrapped transport or server error.
	Cause error
}

// Error returns one operator-readable failure summary.
func (e *RemoteCallError) Error() string {
	if e == nil {
		return "<nil>"
	}

	fields := make([]string, 0, 5)
	if operation := strings.TrimSpace(string(e.Operation)); operation != "" {
		fields = append(fields, "operation="+operation)
	}
	if kind := strings.TrimSpace(string(e.Kind)); kind != "" {
		fields = append(fields, "kind="+kind)
	}
	if e.RetryAfter > 0 {
		fields = append(fields, "retry_after="+e.RetryAfter.String())
	}
	if e.Code != 0 {
		fields = append(fields, fmt.Sprintf("code=%d", e.Code))
	}
	if errorType := strings.TrimSpace(e.Type); errorType != "" {
		fields = append(fields, "type="+errorType)
	}

	if len(fields) == 0 {
		if e.Cause == nil {
			return "remote call error"
		}
		return fmt.Sprintf("remote call error: %v", e.Cause)
	}

	if e.Cause == nil {
		return "remote call error: " + strings.Join(fields, " ")
	}
	return "remote call error: " + strings.Join(fields, " ") + ": " + e.Cause.Error()
}

// Unwrap returns the wrapped root cause.
func (e *RemoteCallError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Cause
}

// AsRemoteCallError extracts one RemoteCallError from wrapped error chains.
func AsRemoteCallError(err error) (*RemoteCallError, bool) {
	if err == nil {
		return nil, false
	}

	var remoteErr *RemoteCallError
	if errors.As(err, &remoteErr) {
		return remoteErr, true
	}

	return nil, false
}

// AsRemoteRateLimit extracts retry delay metadata from rate-limited remote errors.
//
// It returns `(0, false)` if err is not classified as rate-limited.
// It returns `(0, true)` when rate-limited but no retry-after hint is known.
func AsRemoteRateLimit(err error) (time.Duration, bool) {
	remoteErr, ok := AsRemoteCallError(err)
	if !ok || remoteErr == nil || remoteErr.Kind != RemoteErrorKindRateLimited {
		return 0, false
	}

	return remoteErr.RetryAfter, true
}
