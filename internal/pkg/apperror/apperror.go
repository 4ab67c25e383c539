package apperror

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Kind classifies engine errors so transports can map them without string matching.
type Kind string

const (
	KindNotFound                   Kind = "not_found"
	KindForbidden                  Kind = "forbidden"
	KindQuotaExceeded              Kind = "quota_exceeded"
	KindInvalidTransition          Kind = "invalid_transition"
	KindExternalNotificationFailed Kind = "external_notification_failed"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrNotFound                   = &Error{Kind: KindNotFound}
	ErrForbidden                  = &Error{Kind: KindForbidden}
	ErrQuotaExceeded              = &Error{Kind: KindQuotaExceeded}
	ErrInvalidTransition          = &Error{Kind: KindInvalidTransition}
	ErrExternalNotificationFailed = &Error{Kind: KindExternalNotificationFailed}
)

// Error is a user-facing engine error. Resource names the entity or quota
// involved (e.g. "store", "maxStores", "aiRewrites").
type Error struct {
	Kind     Kind
	Resource string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
		if e.Resource != "" {
			msg = fmt.Sprintf("%s: %s", e.Kind, e.Resource)
		}
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrQuotaExceeded)
// works regardless of resource or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NotFound(resource string, id uint) *Error {
	return &Error{
		Kind:     KindNotFound,
		Resource: resource,
		Message:  fmt.Sprintf("%s %d not found", resource, id),
	}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// QuotaExceeded reports that the named quota (maxStores, maxPhotosPerStore,
// aiRewrites, subscription) does not admit the requested operation.
func QuotaExceeded(resource string) *Error {
	return &Error{
		Kind:     KindQuotaExceeded,
		Resource: resource,
		Message:  fmt.Sprintf("quota exceeded: %s", resource),
	}
}

func InvalidTransition(message string) *Error {
	return &Error{Kind: KindInvalidTransition, Message: message}
}

// NotificationFailed wraps a failed external call. It is logged by the
// side-effect coordinator and never returned to lifecycle callers.
func NotificationFailed(url, kind string, err error) *Error {
	return &Error{
		Kind:     KindExternalNotificationFailed,
		Resource: url,
		Message:  fmt.Sprintf("notify %s (%s) failed", url, kind),
		Err:      err,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" for
// untyped (internal) errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps an error onto the response status used by the API.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return fiber.StatusNotFound
	case KindForbidden:
		return fiber.StatusForbidden
	case KindQuotaExceeded:
		return fiber.StatusConflict
	case KindInvalidTransition:
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}
