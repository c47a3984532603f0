package telegram

import (
	"context"
	"errors"
	"strings"

	"github.com/gotd/td/tgerr"

	"ex-mirror/pkg/mirror"
)

// mapRemoteError classifies one failed RPC into *mirror.RemoteCallError.
//
// Context errors and already classified errors pass through unchanged.
func mapRemoteError(operation mirror.RemoteOperation, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, mirror.ErrUnsupported) {
		return err
	}
	if _, ok := mirror.AsRemoteCallError(err); ok {
		return err
	}

	remoteErr := &mirror.RemoteCallError{
		Operation: operation,
		Kind:      mirror.RemoteErrorKindUnknown,
		Cause:     err,
	}
	if errors.Is(err, context.DeadlineExceeded) {
		remoteErr.Kind = mirror.RemoteErrorKindTemporary
		return remoteErr
	}

	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		remoteErr.Kind = mirror.RemoteErrorKindRateLimited
		remoteErr.RetryAfter = retryAfter
		if rpcErr, hasRPC := tgerr.As(err); hasRPC {
			remoteErr.Code = rpcErr.Code
			remoteErr.Type = rpcErr.Type
		}

		return remoteErr
	}

	rpcErr, ok := tgerr.As(err)
	if !ok {
		return remoteErr
	}

	remoteErr.Code = rpcErr.Code
	remoteErr.Type = rpcErr.Type
	remoteErr.Kind = classifyTelegramRPCError(rpcErr)

	return remoteErr
}

func classifyTelegramRPCError(rpcErr *tgerr.Error) mirror.RemoteErrorKind {
	if rpcErr == nil {
		return mirror.RemoteErrorKindUnknown
	}

	errorType := strings.ToUpper(strings.TrimSpace(rpcErr.Type))
	if rpcErr.Code == 420 || rpcErr.Code == 429 || strings.Contains(errorType, "FLOOD") {
		return mirror.RemoteErrorKindRateLimited
	}

	switch rpcErr.Code {
	case 303:
		return mirror.RemoteErrorKindTemporary
	case 400, 401, 403, 404, 405, 406:
		return mirror.RemoteErrorKindPermanent
	}
	if rpcErr.Code >= 500 {
		return mirror.RemoteErrorKindTemporary
	}

	return mirror.RemoteErrorKindUnknown
}
