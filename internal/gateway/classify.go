package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/go-github/v66/github"
)

const (
	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateReset     = "X-RateLimit-Reset"
)

type Kind int

const (
	KindNetworkTransient Kind = iota + 1
	KindRateLimited
	KindServerError
	KindRedirectAnomaly
	KindClientError
	KindUnexpected
)

func (k Kind) String() string {
	switch k {
	case KindNetworkTransient:
		return "network_transient"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindRedirectAnomaly:
		return "redirect_anomaly"
	case KindClientError:
		return "client_error"
	case KindUnexpected:
		return "unexpected"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether another attempt of the same request may succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetworkTransient, KindRateLimited, KindServerError, KindRedirectAnomaly:
		return true
	}
	return false
}

// Error is the outcome of a failed gateway call.
type Error struct {
	Op         string
	Kind       Kind
	StatusCode int           // zero when no response was received
	Delay      time.Duration // wait demanded by the platform, RateLimited only
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (%d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

func (e *Error) RetryAfter() (time.Duration, bool) {
	if e.Kind != KindRateLimited {
		return 0, false
	}
	return e.Delay, true
}

// StatusOf returns the HTTP status carried by a gateway error anywhere in the
// chain, or zero.
func StatusOf(err error) int {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.StatusCode
	}
	return 0
}

// Classify maps a response and/or transport error to an outcome. It returns
// nil for a 2xx response without error. A token source failure is a
// ClientError whatever the transport reported.
func Classify(resp *http.Response, err error, now time.Time) *Error {
	if err != nil && isCredentialFailure(err) {
		out := &Error{Kind: KindClientError, Err: err}
		if resp != nil {
			out.StatusCode = resp.StatusCode
		}
		return out
	}
	if resp == nil {
		if err == nil {
			return nil
		}
		return &Error{Kind: KindNetworkTransient, Err: err}
	}

	code := resp.StatusCode
	if code >= 200 && code <= 299 {
		if err == nil {
			return nil
		}
		// the platform answered but the body could not be used
		return &Error{Kind: KindUnexpected, StatusCode: code, Err: err}
	}
	if err == nil {
		err = fmt.Errorf("unexpected status %s", resp.Status)
	}

	out := &Error{StatusCode: code, Err: err}
	switch {
	case code >= 300 && code <= 399:
		out.Kind = KindRedirectAnomaly
	case code == http.StatusForbidden:
		if delay, ok := rateLimitDelay(resp.Header, err, now); ok {
			out.Kind = KindRateLimited
			out.Delay = delay
		} else {
			out.Kind = KindClientError
		}
	case code >= 400 && code <= 499:
		out.Kind = KindClientError
	case code >= 500 && code <= 599:
		out.Kind = KindServerError
	default:
		out.Kind = KindUnexpected
	}
	return out
}

// RateLimitDelay reports whether the headers announce an exhausted quota and,
// if so, how long until it resets: max(reset - now, 0).
func RateLimitDelay(h http.Header, now time.Time) (time.Duration, bool) {
	if h.Get(headerRateRemaining) != "0" {
		return 0, false
	}
	reset, _ := strconv.ParseInt(h.Get(headerRateReset), 10, 64)
	return untilReset(time.Unix(reset, 0), now), true
}

// rateLimitDelay also honours go-github's own RateLimitError, which it may
// synthesize from cached limits without the original headers.
func rateLimitDelay(h http.Header, err error, now time.Time) (time.Duration, bool) {
	if d, ok := RateLimitDelay(h, now); ok {
		return d, true
	}
	var rle *github.RateLimitError
	if errors.As(err, &rle) && rle.Rate.Remaining == 0 {
		return untilReset(rle.Rate.Reset.Time, now), true
	}
	return 0, false
}

func untilReset(reset, now time.Time) time.Duration {
	d := reset.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
