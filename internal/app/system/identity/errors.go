package identity

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// ErrUnsupported is returned when the active backend adapter does not
// offer a capability.
var ErrUnsupported = errors.New("identity: method not available")

// UnsupportedMessage is what users see for ErrUnsupported.
const UnsupportedMessage = "Método não disponível."

// ErrNoSession is returned by operations that need a signed-in user.
var ErrNoSession = errors.New("identity: no session")

// Error is a rejection reported by the backend.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("identity: status %d", e.Status)
}

// IsRejected reports whether err means the backend refused the token or
// user outright, as opposed to a transient failure.
func IsRejected(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// safeCall runs fn and converts a panic into an error so a misbehaving
// adapter never takes down the request.
func safeCall(log *zap.Logger, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if log != nil {
				log.Error("identity call panicked", zap.String("op", op), zap.Any("panic", r))
			}
			err = fmt.Errorf("identity %s: %v", op, r)
		}
	}()
	return fn()
}
