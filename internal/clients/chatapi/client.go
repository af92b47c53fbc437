package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/yungbote/neurobridge-chat/internal/observability"
	pkgerrors "github.com/yungbote/neurobridge-chat/internal/pkg/errors"
	"github.com/yungbote/neurobridge-chat/internal/pkg/httpx"
	"github.com/yungbote/neurobridge-chat/internal/platform/apierr"
	"github.com/yungbote/neurobridge-chat/internal/platform/envutil"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
)

type Config struct {
	BaseURL    string
	Token      string
	RPS        float64
	Burst      int
	Timeout    time.Duration
	MaxRetries int
}

func ConfigFromEnv() Config {
	return Config{
		BaseURL:    envutil.String("CHAT_API_BASE_URL", ""),
		Token:      envutil.String("CHAT_API_TOKEN", ""),
		RPS:        envutil.Float("CHAT_API_RPS", 10),
		Burst:      envutil.Int("CHAT_API_BURST", 20),
		Timeout:    envutil.Duration("CHAT_API_TIMEOUT", 30*time.Second),
		MaxRetries: envutil.Int("CHAT_API_MAX_RETRIES", 2),
	}
}

// Client talks to the chat backend's REST API. Reads are retried on
// transient failures; writes never are.
type Client struct {
	log        *logger.Logger
	cfg        Config
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *observability.Metrics
}

func New(log *logger.Logger, cfg Config, metrics *observability.Metrics) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("missing CHAT_API_BASE_URL")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid CHAT_API_BASE_URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Client{
		log:        log.With("client", "ChatAPIClient"),
		cfg:        cfg,
		baseURL:    strings.TrimRight(base, "/") + "/",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		metrics:    metrics,
	}, nil
}

// envelope is the backend's common response wrapper.
type envelope struct {
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Error      bool            `json:"error"`
	StatusCode int             `json:"status_code"`
}

type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
}

func (c *Client) do(ctx context.Context, cl call, out any) error {
	ctx, span := observability.StartSpan(ctx, "chatapi."+cl.op,
		attribute.String("http.method", cl.method),
		attribute.String("chatapi.path", cl.path),
	)
	start := time.Now()
	retries := 0
	if cl.method == http.MethodGet {
		retries = c.cfg.MaxRetries
	}
	backoff := 500 * time.Millisecond

	var err error
	for attempt := 0; ; attempt++ {
		var resp *http.Response
		resp, err = c.doOnce(ctx, cl, out)
		if err == nil || attempt >= retries || !apierr.IsTransient(err) || ctx.Err() != nil {
			break
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("chat api request retrying",
			"op", cl.op,
			"attempt", attempt+1,
			"max_retries", retries,
			"sleep", sleepFor.String(),
			"error", err,
		)
		if serr := httpx.Sleep(ctx, sleepFor); serr != nil {
			err = serr
			break
		}
		backoff *= 2
	}

	status := "ok"
	if err != nil {
		status = observability.StatusLabel(apierr.StatusOf(err))
	}
	c.metrics.ObserveBackend(cl.op, status, time.Since(start))
	observability.EndSpan(span, err)
	return err
}

func (c *Client) doOnce(ctx context.Context, cl call, out any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var body io.Reader
	if cl.body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(cl.body); err != nil {
			return nil, fmt.Errorf("encode %s request: %w", cl.op, err)
		}
		body = &buf
	}
	u := c.baseURL + strings.TrimLeft(cl.path, "/")
	if len(cl.query) > 0 {
		u += "?" + cl.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u, body)
	if err != nil {
		return nil, err
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apierr.Network(fmt.Errorf("%s %s: %w", cl.method, cl.path, err))
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, apierr.Network(fmt.Errorf("%s %s: read body: %w", cl.method, cl.path, readErr))
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	status := resp.StatusCode
	if env.StatusCode >= 400 {
		status = env.StatusCode
	}
	if status < 200 || status >= 300 || env.Error {
		if status < 400 {
			status = http.StatusBadGateway
		}
		msg := strings.TrimSpace(env.Message)
		if msg == "" {
			msg = http.StatusText(status)
		}
		return resp, apierr.New(status, codeFor(status), fmt.Errorf("%s %s: %s: %w", cl.method, cl.path, msg, sentinelFor(status)))
	}
	if decodeErr != nil {
		return resp, apierr.New(resp.StatusCode, "bad_response", fmt.Errorf("%s %s: decode envelope: %w", cl.method, cl.path, decodeErr))
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return resp, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return resp, apierr.New(resp.StatusCode, "bad_response", fmt.Errorf("%s %s: decode data: %w", cl.method, cl.path, err))
	}
	return resp, nil
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "invalid_argument"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	if status >= 500 {
		return "unavailable"
	}
	return "api_error"
}

var errBackend = errors.New("backend error")

func sentinelFor(status int) error {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return pkgerrors.ErrInvalidArgument
	case http.StatusUnauthorized:
		return pkgerrors.ErrUnauthorized
	case http.StatusForbidden:
		return pkgerrors.ErrForbidden
	case http.StatusNotFound:
		return pkgerrors.ErrNotFound
	case http.StatusConflict:
		return pkgerrors.ErrConflict
	}
	return errBackend
}
