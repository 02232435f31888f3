package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/lucasew/gharun/internal/retry"
	"github.com/lucasew/gharun/internal/sanitize"
	"github.com/lucasew/gharun/internal/version"
)

const (
	defaultRequestTimeout  = 30 * time.Second
	defaultDownloadTimeout = 5 * time.Minute
)

type Config struct {
	// BaseURL of the REST API, e.g. https://ghe.example.com/api/v3/. Empty means api.github.com.
	BaseURL string
	// TokenSource supplies the bearer credential attached to every API request.
	TokenSource oauth2.TokenSource
	// Transport is the underlying round tripper, http.DefaultTransport when nil.
	Transport http.RoundTripper
	// DownloadTransport carries the unauthenticated blob downloads. Falls
	// back to Transport.
	DownloadTransport http.RoundTripper
	RequestTimeout    time.Duration
	DownloadTimeout   time.Duration
	Retry             retry.Policy
	Logger            *slog.Logger
	// Now is used to compute rate limit waits. Defaults to time.Now.
	Now func() time.Time
}

// Gateway is the authenticated REST client every remote call goes through.
// It holds no per-call state, so one instance can serve many executors.
type Gateway struct {
	client   *github.Client
	download *http.Client
	policy   retry.Policy
	logger   *slog.Logger
	now      func() time.Time
}

// Call performs a single request through the go-github client.
type Call func(ctx context.Context) (*github.Response, error)

func New(cfg Config) (*Gateway, error) {
	if cfg.TokenSource == nil {
		return nil, errors.New("token source is required")
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	downloadBase := cfg.DownloadTransport
	if downloadBase == nil {
		downloadBase = base
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = defaultRequestTimeout
	}
	downloadTimeout := cfg.DownloadTimeout
	if downloadTimeout == 0 {
		downloadTimeout = defaultDownloadTimeout
	}

	api := &http.Client{
		Transport: &oauth2.Transport{Source: cfg.TokenSource, Base: base},
		Timeout:   requestTimeout,
		// a redirect from the API is classified, never followed
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	client := github.NewClient(api)
	client.UserAgent = "gharun/" + version.Get()
	if cfg.BaseURL != "" {
		u, err := parseBaseURL(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		client.BaseURL = u
	}

	policy := cfg.Retry
	if policy.MaxAttempts == 0 && policy.Backoff == nil {
		timer := policy.Timer
		policy = retry.Default()
		policy.Timer = timer
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Gateway{
		client:   client,
		download: &http.Client{Transport: downloadBase, Timeout: downloadTimeout},
		policy:   policy,
		logger:   logger,
		now:      now,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return u, nil
}

// Client exposes the underlying go-github client. Calls made on it directly
// bypass classification and retry; wrap them with Do.
func (g *Gateway) Client() *github.Client {
	return g.client
}

// Do runs call under the retry policy. Retryable outcomes are retried with
// backoff, fatal ones are returned at once as *Error.
func (g *Gateway) Do(ctx context.Context, op string, call Call) error {
	return g.retry(ctx, op, func() error {
		resp, err := call(ctx)
		if err == nil {
			return nil
		}
		var accepted *github.AcceptedError
		if errors.As(err, &accepted) {
			return nil
		}

		var httpResp *http.Response
		if resp != nil {
			httpResp = resp.Response
		}
		if gerr := Classify(httpResp, err, g.now()); gerr != nil {
			gerr.Op = op
			return gerr
		}
		return nil
	})
}

// Fetch downloads an absolute URL without the API credential. It is meant for
// pre-signed archive locations handed out by the API.
func (g *Gateway) Fetch(ctx context.Context, op, rawURL string) ([]byte, error) {
	var body []byte
	err := g.retry(ctx, op, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return &Error{Op: op, Kind: KindUnexpected, Err: err}
		}
		resp, err := g.download.Do(req)
		if err != nil {
			return &Error{Op: op, Kind: KindNetworkTransient, Err: err}
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		if gerr := Classify(resp, nil, g.now()); gerr != nil {
			gerr.Op = op
			return gerr
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &Error{Op: op, Kind: KindNetworkTransient, StatusCode: resp.StatusCode, Err: err}
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (g *Gateway) retry(ctx context.Context, op string, fn func() error) error {
	return g.policy.Do(ctx, fn, func(err error, attempt int, wait time.Duration) {
		kind := "unknown"
		var gerr *Error
		if errors.As(err, &gerr) {
			kind = gerr.Kind.String()
		}
		g.logger.Warn("retrying request",
			"op", op,
			"attempt", attempt,
			"kind", kind,
			"status", StatusOf(err),
			"wait", wait,
			"error", sanitize.String(err.Error()))
	})
}
