// Package upstream streams chat turns from tenant agent services.
//
// A Client owns the connection pool, the per-tenant dispatch spacing, and the
// conversation tokens each (tenant, caller) pair reuses across turns.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/lunahub/agent-gateway/internal/config"
	"github.com/lunahub/agent-gateway/internal/logging"
	"github.com/lunahub/agent-gateway/internal/metrics"
	"github.com/lunahub/agent-gateway/internal/util"
	"github.com/lunahub/agent-gateway/internal/version"
)

const (
	maxErrorBody   = 4 << 10
	maxRecordBytes = 8 << 20
)

// Endpoint addresses one tenant agent. Token and URL are secrets and never
// appear in errors or logs.
type Endpoint struct {
	URL       string
	Token     string
	ProjectID int64
}

// TenantKey identifies the endpoint for rate limiting and session scoping
// without exposing the URL.
func (e Endpoint) TenantKey() string {
	sum := sha256.Sum256([]byte(e.URL + "\x00" + strconv.FormatInt(e.ProjectID, 10)))
	return hex.EncodeToString(sum[:8])
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetry
	outcomeFatal
)

// Client issues streaming chat requests to agent endpoints.
type Client struct {
	httpClient  *http.Client
	sessions    *SessionRegistry
	limiter     *RateLimiter
	metrics     *metrics.Collector
	readTimeout time.Duration
	retryBase   time.Duration
	maxAttempts int
	loopLimit   int
	sleep       func(context.Context, time.Duration) error
}

// NewClient builds a client with its own connection pool.
func NewClient(cfg config.UpstreamConfig, m *metrics.Collector) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	return newClient(cfg, &http.Client{Transport: transport}, m)
}

// NewClientWithHTTP builds a client on an existing http.Client. Its Timeout
// should be zero; per-attempt deadlines come from cfg.ReadTimeout.
func NewClientWithHTTP(cfg config.UpstreamConfig, httpClient *http.Client, m *metrics.Collector) *Client {
	return newClient(cfg, httpClient, m)
}

func newClient(cfg config.UpstreamConfig, httpClient *http.Client, m *metrics.Collector) *Client {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		httpClient:  httpClient,
		sessions:    NewSessionRegistry(cfg.SessionTTL),
		limiter:     NewRateLimiter(cfg.MinInterval),
		metrics:     m,
		readTimeout: cfg.ReadTimeout,
		retryBase:   cfg.RetryBase,
		maxAttempts: attempts,
		loopLimit:   cfg.LoopGuardLimit,
		sleep:       sleepContext,
	}
}

// Sessions exposes the registry, mainly for diagnostics.
func (c *Client) Sessions() *SessionRegistry {
	return c.sessions
}

// CloseIdleConnections releases pooled connections. Call on shutdown.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// StreamChat sends message to ep on behalf of callerID and yields text
// fragments as they arrive. The sequence ends after the terminal record, or
// after yielding exactly one non-nil error. Network failures before the
// first fragment are retried with linear backoff; nothing is retried once a
// fragment has been yielded.
//
// Each range over the returned sequence issues a new call.
func (c *Client) StreamChat(ctx context.Context, ep Endpoint, message, callerID string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		tenant := ep.TenantKey()
		scope := tenant + ":" + callerID
		log := logging.FromContext(ctx).WithField("tenant", tenant)

		body := newQueryPayload(message, ep.ProjectID)
		emitted := false

		for attempt := 1; ; attempt++ {
			body.SessionID = c.sessions.Resolve(scope)
			res, err := c.attempt(ctx, ep, tenant, body, yield, &emitted)

			switch res {
			case outcomeDone:
				c.metrics.UpstreamAttempt("ok")
				return

			case outcomeRetry:
				c.metrics.UpstreamAttempt("retry")
				if attempt >= c.maxAttempts {
					log.WithError(err).Warnf("agent unreachable after %d attempts", attempt)
					c.invalidate(scope)
					c.fail(yield, &Error{
						Kind:   ErrUnreachable,
						Detail: fmt.Sprintf("agent service unreachable after %d attempts", attempt),
					})
					return
				}
				delay := time.Duration(attempt) * c.retryBase
				log.WithError(err).Infof("attempt %d failed, retrying in %s", attempt, delay)
				if err := c.sleep(ctx, delay); err != nil {
					c.fail(yield, err)
					return
				}

			case outcomeFatal:
				c.metrics.UpstreamAttempt("fatal")
				if invalidatesSession(err) {
					c.invalidate(scope)
				}
				log.WithError(err).Warn("agent call failed")
				c.fail(yield, err)
				return
			}
		}
	}
}

func (c *Client) fail(yield func(string, error) bool, err error) {
	c.metrics.UpstreamError(KindName(err))
	yield("", err)
}

func (c *Client) invalidate(scope string) {
	c.sessions.Invalidate(scope)
	c.metrics.SessionInvalidated()
}

// attempt performs one request. A consumer that stops ranging ends the call
// with outcomeDone and a nil error.
func (c *Client) attempt(ctx context.Context, ep Endpoint, tenant string, body *queryPayload, yield func(string, error) bool, emitted *bool) (outcome, error) {
	queued := time.Now()
	if err := c.limiter.AwaitTurn(ctx, tenant); err != nil {
		if ctx.Err() != nil {
			return outcomeFatal, ctx.Err()
		}
		return outcomeFatal, &Error{Kind: ErrTimeout, Detail: "agent service busy, try again later"}
	}
	c.metrics.RateLimitWaited(time.Since(queued))

	payload, err := json.Marshal(body)
	if err != nil {
		return outcomeFatal, &Error{Kind: ErrProtocol, Detail: "could not encode request"}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return outcomeFatal, &Error{Kind: ErrUnreachable, Detail: "agent endpoint is misconfigured"}
	}
	req.Header.Set("Authorization", "Bearer "+ep.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", "agent-gateway/"+version.Version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, attemptCtx, err, false)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return outcomeFatal, &Error{
			Kind:       ErrStatus,
			StatusCode: resp.StatusCode,
			Detail:     statusDetail(resp.StatusCode, raw),
		}
	}

	log := logging.FromContext(ctx).WithField("tenant", tenant)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)
	guard := loopGuard{limit: c.loopLimit}

	for scanner.Scan() {
		line := scanner.Text()
		ev, ok, err := ParseLine(line)
		if err != nil {
			log.WithError(err).Warnf("skipping malformed agent record: %s", util.TruncateLog(line, util.DefaultLogMaxLen))
			continue
		}
		if !ok {
			continue
		}
		if ev.Failed() {
			log.Debugf("agent error record: %s", util.TruncateLog(line, util.DefaultLogMaxLen))
			return outcomeFatal, &Error{Kind: ErrProtocol, Detail: inBandDetail(ev)}
		}
		if ev.End {
			return outcomeDone, nil
		}
		if ev.Text == "" {
			continue
		}
		if guard.repeated(line) {
			return outcomeFatal, &Error{Kind: ErrProtocol, Detail: "agent service repeated the same record"}
		}
		*emitted = true
		if !yield(ev.Text, nil) {
			return outcomeDone, nil
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return outcomeFatal, &Error{Kind: ErrProtocol, Detail: "agent service sent an oversized record"}
		}
		return classifyTransport(ctx, attemptCtx, err, *emitted)
	}
	// EOF without a terminal record still completes the turn.
	return outcomeDone, nil
}

// classifyTransport maps a request or read failure to an outcome. Caller
// cancellation passes through unwrapped.
func classifyTransport(ctx, attemptCtx context.Context, err error, emitted bool) (outcome, error) {
	if ctx.Err() != nil {
		return outcomeFatal, ctx.Err()
	}
	if attemptCtx.Err() != nil || isTimeout(err) {
		return outcomeFatal, &Error{Kind: ErrTimeout, Detail: "agent service timed out"}
	}
	if emitted {
		return outcomeFatal, &Error{Kind: ErrUnreachable, Detail: "connection to agent service was lost"}
	}
	return outcomeRetry, &Error{Kind: ErrUnreachable, Detail: "cannot connect to agent service"}
}

func statusDetail(code int, body []byte) string {
	excerpt := util.Excerpt(string(body), util.DefaultExcerptLen)
	if excerpt == "" {
		return fmt.Sprintf("agent service returned status %d", code)
	}
	return fmt.Sprintf("agent service returned status %d: %s", code, excerpt)
}

func inBandDetail(ev Event) string {
	if ev.ErrorMessage == "" {
		return fmt.Sprintf("agent service reported error %s", ev.ErrorCode)
	}
	return fmt.Sprintf("agent service reported error %s: %s", ev.ErrorCode, util.Excerpt(ev.ErrorMessage, util.DefaultExcerptLen))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type queryPayload struct {
	Content   queryContent `json:"content"`
	Type      string       `json:"type"`
	ProjectID int64        `json:"project_id"`
	SessionID string       `json:"session_id"`
}

type queryContent struct {
	Query struct {
		Prompt []promptItem `json:"prompt"`
	} `json:"query"`
}

type promptItem struct {
	Type    string `json:"type"`
	Content struct {
		Text string `json:"text"`
	} `json:"content"`
}

func newQueryPayload(message string, projectID int64) *queryPayload {
	item := promptItem{Type: "text"}
	item.Content.Text = message
	p := &queryPayload{Type: "query", ProjectID: projectID}
	p.Content.Query.Prompt = []promptItem{item}
	return p
}
