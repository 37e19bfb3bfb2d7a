package protocol

import (
	"errors"
	"strings"
)

var (
	ErrConnectionFailed    = errors.New("protocol: connection failed")
	ErrUnsupportedProtocol = errors.New("protocol: unsupported protocol")
	ErrTransient           = errors.New("protocol: transient transport error")
)

// transientPatterns is the closed set of fault signatures treated as
// likely-recoverable. Pattern matching is the fallback for wrapped
// third-party backend errors whose taxonomy we cannot change.
var transientPatterns = []string{
	"data socket timeout",
	"i/o timeout",
	"connection timed out",
	"deadline exceeded",
	"timeout",
}

// IsTransient reports whether err is classified as recoverable by retry.
// Typed classification via ErrTransient wins; otherwise the error message
// is matched against the known transport-timeout signatures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// deadPatterns mark a backend connection as unusable. A dead connection is
// terminal: no retry and no reconnect, the session must be evicted.
var deadPatterns = []string{
	"use of closed network connection",
	"connection reset",
	"broken pipe",
	"eof",
	"connection closed",
}

func isDeadConnection(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range deadPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
