package fault

import (
	"context"
	"errors"
	"strings"
)

// ClassifyExecutor maps an arbitrary action-executor error onto a stable
// code using substring hints. Executor failures are never retriable from
// the worker's perspective; executors signal transient conditions by
// returning a Transient error explicitly.
func ClassifyExecutor(err error) *Error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(CodeTimeout, err, "action execution timed out")
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline"):
		return Wrap(CodeTimeout, err, "action execution timed out")
	case strings.Contains(msg, "permission") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "unauthorized"):
		return Wrap(CodePermissionDenied, err, "action execution was denied")
	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid"):
		return Wrap(CodeValidation, err, "action rejected its input")
	case strings.Contains(msg, "not found"):
		return Wrap(CodeNotFound, err, "action input missing")
	default:
		return Wrap(CodeProcessing, err, "action execution failed")
	}
}
