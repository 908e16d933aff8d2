package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"chat-client/internal/logging"
	"chat-client/internal/observability"
)

const refreshPath = "/api/auth/refresh-token"

// TokenStore is where the client reads and renews credentials.
type TokenStore interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	SetAccessToken(ctx context.Context, token string) error
}

type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RefreshSkew time.Duration
	HTTPClient  *http.Client
}

// Client issues authenticated REST calls. A 401 triggers one shared token refresh
// and a single retry of the original request.
type Client struct {
	baseURL     string
	http        *http.Client
	tokens      TokenStore
	refreshSkew time.Duration
	sf          singleflight.Group
	tracer      trace.Tracer
	log         zerolog.Logger

	mu        sync.Mutex
	onExpired []func()
	announced bool
}

// NewClient constructs a Client.
func NewClient(cfg Config, tokens TokenStore, log zerolog.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		http:        httpClient,
		tokens:      tokens,
		refreshSkew: cfg.RefreshSkew,
		tracer:      otel.Tracer("chat-client/api"),
		log:         logging.Component(log, "api"),
	}
}

// OnSessionExpired registers fn to run whenever a call ends in ErrSessionExpired.
func (c *Client) OnSessionExpired(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpired = append(c.onExpired, fn)
}

func (c *Client) do(ctx context.Context, method, route, path string, body, out any) error {
	c.refreshIfExpiring(ctx)

	resp, err := c.send(ctx, method, route, path, body, true)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		if _, err := c.refresh(ctx, true); err != nil {
			return err
		}
		resp, err = c.send(ctx, method, route, path, body, true)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			drain(resp)
			c.announceExpired()
			return ErrSessionExpired
		}
	}
	c.credentialsAccepted()
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *Client) send(ctx context.Context, method, route, path string, body any, auth bool) (*http.Response, error) {
	ctx, span := c.tracer.Start(ctx, method+" "+route, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")
	if auth {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("read access token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.ObserveAPIRequest(method, route, 0, elapsed)
		c.log.Warn().Err(err).Str(logging.FieldMethod, method).Str(logging.FieldPath, path).Msg("request failed")
		return nil, fmt.Errorf("%s %s: %w", method, route, err)
	}

	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", resp.StatusCode),
	)
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, resp.Status)
	}
	observability.ObserveAPIRequest(method, route, resp.StatusCode, elapsed)
	c.log.Debug().
		Str(logging.FieldMethod, method).
		Str(logging.FieldPath, path).
		Int(logging.FieldStatus, resp.StatusCode).
		Int64(logging.FieldLatency, elapsed.Milliseconds()).
		Msg("request completed")
	return resp, nil
}

// refresh exchanges the refresh token for a new access token. Concurrent callers
// share one round trip. Only a rejected refresh token is ErrSessionExpired;
// transport and 5xx failures come back as ordinary errors. announce controls
// whether a rejection runs the OnSessionExpired hooks.
func (c *Client) refresh(ctx context.Context, announce bool) (string, error) {
	v, err, _ := c.sf.Do("refresh", func() (interface{}, error) {
		return c.doRefresh(ctx)
	})
	if err != nil {
		if announce && errors.Is(err, ErrSessionExpired) {
			c.announceExpired()
		}
		return "", err
	}
	token, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("unexpected result type from singleflight")
	}
	return token, nil
}

func (c *Client) doRefresh(ctx context.Context) (string, error) {
	refreshToken, err := c.tokens.RefreshToken(ctx)
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}
	if refreshToken == "" {
		observability.IncTokenRefresh("missing")
		return "", ErrSessionExpired
	}

	resp, err := c.send(ctx, http.MethodPost, refreshPath, refreshPath, map[string]string{"refreshToken": refreshToken}, false)
	if err != nil {
		observability.IncTokenRefresh("error")
		return "", fmt.Errorf("refresh token: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		AccessToken string `json:"accessToken"`
	}
	if err := decodeResponse(resp, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 {
			observability.IncTokenRefresh("rejected")
			return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}
		observability.IncTokenRefresh("error")
		return "", fmt.Errorf("refresh token: %w", err)
	}
	if out.AccessToken == "" {
		observability.IncTokenRefresh("rejected")
		return "", ErrSessionExpired
	}
	if err := c.tokens.SetAccessToken(ctx, out.AccessToken); err != nil {
		return "", fmt.Errorf("store access token: %w", err)
	}
	observability.IncTokenRefresh("ok")
	c.credentialsAccepted()
	c.log.Info().Msg("access token refreshed")
	return out.AccessToken, nil
}

// refreshIfExpiring renews the access token ahead of time when its exp claim
// falls inside the refresh skew. Failures are left to the 401 path.
func (c *Client) refreshIfExpiring(ctx context.Context) {
	if c.refreshSkew <= 0 {
		return
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil || token == "" {
		return
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) > c.refreshSkew {
		return
	}
	if _, err := c.refresh(ctx, false); err != nil {
		c.log.Debug().Err(err).Msg("proactive token refresh failed")
	}
}

// announceExpired runs the hooks once per expiry. Accepted credentials rearm it.
func (c *Client) announceExpired() {
	c.mu.Lock()
	if c.announced {
		c.mu.Unlock()
		return
	}
	c.announced = true
	hooks := append([]func(){}, c.onExpired...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (c *Client) credentialsAccepted() {
	c.mu.Lock()
	c.announced = false
	c.mu.Unlock()
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &body) == nil {
			apiErr.Message = body.Error
			if apiErr.Message == "" {
				apiErr.Message = body.Message
			}
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
