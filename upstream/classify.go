// Package upstream wraps calls to the remote mail service with failure
// classification, bounded retries, backoff, and circuit breaker signaling.
//
// The remote service is opaque to this package: callers hand it a plain
// function and it only observes success or an error. Classification works on
// whatever that error carries - sentinel identity, an HTTP status, or loose
// message text.
package upstream

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/tidemark/mailpulse/errors"
)

// Kind is the design-level failure taxonomy. Classification checks run in
// the order the kinds are declared; first match wins.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimited
	KindUnauthorized
	KindUnavailable
	KindMailboxGone
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	case KindUnavailable:
		return "unavailable"
	case KindMailboxGone:
		return "mailbox_gone"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Message is a fixed user-facing message category. The feature layer renders
// consistent guidance from the category without re-deriving classification.
type Message string

const (
	MessageRetryShortly   Message = "retry_shortly"
	MessageReauthorize    Message = "reauthorize"
	MessageUpstreamDown   Message = "upstream_down"
	MessageMailboxGone    Message = "mailbox_gone"
	MessageGenericFailure Message = "generic_failure"
)

// Class is the classification of one upstream failure.
type Class struct {
	Kind      Kind
	Retryable bool

	// DelayFloor, when positive, overrides the backoff schedule: the retry
	// delay is raised to at least this value.
	DelayFloor time.Duration

	Message Message
}

const (
	// defaultRateLimitFloor is the minimum wait after a rate-limit rejection,
	// regardless of where the backoff schedule is.
	defaultRateLimitFloor = 30 * time.Second

	// unknownDelayFloor is the conservative short delay for unclassifiable
	// failures.
	unknownDelayFloor = 2 * time.Second
)

// StatusError carries an HTTP status from the upstream response. Callers that
// talk HTTP wrap their failures in this so classification can use the code
// instead of guessing from text.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "upstream returned status " + http.StatusText(e.Code)
}

// Loose message-text heuristics, checked when the error carries no structured
// signal. Upstream SDKs flatten responses into strings more often than not.
var (
	rateLimitRe = regexp.MustCompile(`(?i)rate limit|too many requests|requests per (?:minute|hour|day)|quota|throttl|\b429\b`)

	unauthorizedRe = regexp.MustCompile(`(?i)unauthorized|forbidden|permission denied|invalid (?:credentials|grant|token)|auth(?:entication|orization) (?:failed|required|expired)|\b40[13]\b`)

	unavailableRe = regexp.MustCompile(`(?i)timed? ?out|deadline exceeded|connection (?:refused|reset|closed)|no such host|network is unreachable|service unavailable|bad gateway|gateway timeout|temporarily unavailable|\b50[234]\b`)

	mailboxGoneRe = regexp.MustCompile(`(?i)(?:mailbox|thread|message|label) (?:not found|no longer exists|has been deleted|was deleted|does not exist)|\b404\b`)

	upstreamStatusRe = regexp.MustCompile(`(?i)\b[45]\d\d\b|internal (?:server )?error|upstream error|server error`)
)

// Classify maps an error from a remote call to its Class. Checks run in
// taxonomy order (rate limited, unauthorized, unavailable, mailbox gone,
// generic upstream, unknown); the first match wins. nil errors are not
// classifiable and panic-free: they return the zero Class.
func Classify(err error) Class {
	if err == nil {
		return Class{}
	}

	if isRateLimited(err) {
		return Class{Kind: KindRateLimited, Retryable: true, DelayFloor: defaultRateLimitFloor, Message: MessageRetryShortly}
	}
	if isUnauthorized(err) {
		return Class{Kind: KindUnauthorized, Retryable: false, Message: MessageReauthorize}
	}
	if isUnavailable(err) {
		return Class{Kind: KindUnavailable, Retryable: true, Message: MessageUpstreamDown}
	}
	if isMailboxGone(err) {
		return Class{Kind: KindMailboxGone, Retryable: false, Message: MessageMailboxGone}
	}
	if isUpstream(err) {
		return Class{Kind: KindUpstream, Retryable: true, Message: MessageGenericFailure}
	}

	return Class{Kind: KindUnknown, Retryable: true, DelayFloor: unknownDelayFloor, Message: MessageGenericFailure}
}

func httpStatus(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

func isRateLimited(err error) bool {
	if errors.Is(err, errors.ErrRateLimited) {
		return true
	}
	if code, ok := httpStatus(err); ok && code == 429 {
		return true
	}
	return rateLimitRe.MatchString(err.Error())
}

func isUnauthorized(err error) bool {
	if errors.Is(err, errors.ErrUnauthorized) {
		return true
	}
	if code, ok := httpStatus(err); ok && (code == 401 || code == 403) {
		return true
	}
	return unauthorizedRe.MatchString(err.Error())
}

func isUnavailable(err error) bool {
	if errors.Is(err, errors.ErrUpstreamUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if code, ok := httpStatus(err); ok {
		switch code {
		case 408, 502, 503, 504:
			return true
		}
	}
	return unavailableRe.MatchString(err.Error())
}

func isMailboxGone(err error) bool {
	if errors.Is(err, errors.ErrMailboxGone) {
		return true
	}
	if code, ok := httpStatus(err); ok && code == 404 {
		return true
	}
	return mailboxGoneRe.MatchString(err.Error())
}

func isUpstream(err error) bool {
	if code, ok := httpStatus(err); ok && code >= 400 {
		return true
	}
	return upstreamStatusRe.MatchString(err.Error())
}
