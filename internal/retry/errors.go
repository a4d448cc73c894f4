// Package retry decides whether a failed dispatch should be retried, with
// what backoff, and which alternative candidate to suggest when the failing
// candidate cannot handle the request at all. Backoff computation is pure:
// the manager returns a delay value and the host owns the actual waiting.
package retry

import "strings"

// ErrorClass buckets a dispatch error for the retry decision.
type ErrorClass int

const (
	// ClassRetryable errors are transient: timeouts, connection resets,
	// service blips. Everything unrecognized lands here by default.
	ClassRetryable ErrorClass = iota

	// ClassTerminal errors will not heal on retry: permission, auth,
	// credentials, quota.
	ClassTerminal

	// ClassScope errors mean the candidate cannot handle this request at
	// all (missing module, unsupported operation). Terminal for this
	// candidate, but an alternative candidate may succeed.
	ClassScope
)

// String returns the class name.
func (c ErrorClass) String() string {
	switch c {
	case ClassTerminal:
		return "terminal"
	case ClassScope:
		return "scope"
	default:
		return "retryable"
	}
}

// Retryable reports whether errors of this class may be retried.
func (c ErrorClass) Retryable() bool {
	return c == ClassRetryable
}

// scopePatterns indicate the candidate structurally cannot serve the request.
var scopePatterns = []string{
	"file not found",
	"module not found",
	"no such file",
	"not supported",
	"unsupported",
	"cannot handle",
	"out of scope",
	"unknown command",
}

// terminalPatterns indicate failures no retry budget will fix.
var terminalPatterns = []string{
	"permission denied",
	"access denied",
	"forbidden",
	"invalid api key",
	"invalid token",
	"authentication failed",
	"unauthorized",
	"quota exceeded",
	"rate limit",
	"too many requests",
}

// ClassifyError buckets an error by message patterns, case-insensitively.
// A nil error is retryable (the caller reported a failure without detail).
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ClassRetryable
	}
	msg := strings.ToLower(err.Error())

	for _, p := range scopePatterns {
		if strings.Contains(msg, p) {
			return ClassScope
		}
	}
	for _, p := range terminalPatterns {
		if strings.Contains(msg, p) {
			return ClassTerminal
		}
	}
	return ClassRetryable
}
