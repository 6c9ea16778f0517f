package graphql

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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pitabwire/portico/internal/config"
	"github.com/pitabwire/portico/internal/observability"
	"github.com/pitabwire/portico/model"
)

const maxResponseBytes = 10 << 20

// Request is a GraphQL request body.
type Request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Response is a decoded GraphQL response body.
type Response struct {
	Data    json.RawMessage `json:"data"`
	Errors  []GQLError      `json:"errors,omitempty"`
	Cookies []*http.Cookie  `json:"-"`
}

// Decode unmarshals the response data into v.
func (r *Response) Decode(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return errors.New("graphql: response has no data")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("graphql: decode data: %w", err)
	}
	return nil
}

// Executor executes GraphQL requests, dispatching the request, response and
// error lifecycle actions of types to d.
type Executor interface {
	Execute(ctx context.Context, d model.Dispatcher, req Request, types model.ActionTypes, meta any) (*Response, error)
}

// Client talks to the backend's GraphQL endpoint and REST helpers. Every
// call passes through an outbound rate limiter and a circuit breaker.
type Client struct {
	apiURL  string
	http    *http.Client
	breaker *CircuitBreaker
	limiter *rate.Limiter
	metrics *observability.Metrics
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMetrics records request and breaker metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the backend described by cfg.
func NewClient(cfg config.BackendConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger: zap.NewNop(),
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		burst := cfg.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = NewCircuitBreaker(cfg.CircuitBreaker, func(s BreakerState) {
		c.metrics.SetCircuitBreakerState(float64(s))
		c.logger.Warn("graphql: circuit breaker state changed", zap.Stringer("state", s))
	})
	return c
}

// GraphQLURL returns the GraphQL endpoint.
func (c *Client) GraphQLURL() string {
	return c.apiURL + "/graphql"
}

// BreakerState returns the circuit breaker's state.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

// HealthCheck fails while the circuit breaker is open.
func (c *Client) HealthCheck(_ context.Context) error {
	if c.breaker.State() == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// Execute POSTs req to the GraphQL endpoint. types.Req is dispatched before
// the call, types.Resp with the response data on success, and types.Err plus
// a global alert on any transport or GraphQL error. The returned error is a
// *model.ServiceError in those cases.
func (c *Client) Execute(ctx context.Context, d model.Dispatcher, req Request, types model.ActionTypes, meta any) (*Response, error) {
	if d == nil {
		d = model.DispatchFunc(func(model.Action) {})
	}
	start := time.Now()

	ctx, span := observability.StartSpan(ctx, "graphql.execute",
		observability.AttrActionType.String(types.Req),
		observability.AttrOperation.String(rootField(req.Query)),
	)

	d.Dispatch(model.Action{Type: types.Req, Meta: meta})
	c.logger.Debug("graphql: request",
		zap.String("action", types.Req),
		zap.String("query", req.Query),
		zap.Any("variables", observability.RedactVariables(req.Variables)),
	)

	fail := func(outcome string, serr *model.ServiceError) (*Response, error) {
		d.Dispatch(model.Action{Type: types.Err, Payload: serr, Meta: meta})
		d.Dispatch(model.Action{Type: model.ActionAlert, Payload: serr})
		c.metrics.RecordGraphQLRequest(types.Req, outcome, time.Since(start))
		observability.RequestLogger(ctx, c.logger).Warn("graphql: request failed",
			zap.String("action", types.Err),
			zap.String("code", serr.Code),
			zap.String("message", serr.Message),
			zap.String("detail", serr.Detail),
		)
		observability.EndSpanWithError(span, serr)
		return nil, serr
	}

	body, err := json.Marshal(req)
	if err != nil {
		observability.EndSpanWithError(span, err)
		return nil, fmt.Errorf("graphql: marshal request: %w", err)
	}

	httpResp, serr := c.do(ctx, http.MethodPost, c.GraphQLURL(), nil, bytes.NewReader(body))
	if serr != nil {
		return fail(outcomeFor(serr), serr)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		c.breaker.RecordFailure()
		return fail("server_error", &model.ServiceError{Code: CodeNetworkError, Message: "Network error", Detail: err.Error()})
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		c.recordStatus(httpResp.StatusCode)
		return fail("server_error", FormatServerError(httpResp.StatusCode, "", responseDetail(raw)))
	}
	c.breaker.RecordSuccess()

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return fail("server_error", FormatServerError(http.StatusBadGateway, "", "malformed GraphQL response: "+err.Error()))
	}
	out.Cookies = httpResp.Cookies()

	if gerr := FormatGraphQLError(out.Errors); gerr != nil {
		return fail("data_error", gerr)
	}

	d.Dispatch(model.Action{Type: types.Resp, Payload: out.Data, Meta: meta})
	c.metrics.RecordGraphQLRequest(types.Req, "ok", time.Since(start))
	span.End()
	return &out, nil
}

// Get issues a GET against a REST path under the API URL. A non-2xx status
// is returned as a *model.ServiceError with the body closed; otherwise the
// caller owns the response body.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	u := c.apiURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	resp, serr := c.do(ctx, http.MethodGet, u, nil, nil)
	if serr != nil {
		return nil, serr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		c.recordStatus(resp.StatusCode)
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, FormatServerError(resp.StatusCode, "", responseDetail(raw))
	}
	c.breaker.RecordSuccess()
	return resp, nil
}

// GetJSON issues a GET and decodes the JSON body into out, dispatching the
// lifecycle actions of types like Execute does.
func (c *Client) GetJSON(ctx context.Context, d model.Dispatcher, path string, query url.Values, types model.ActionTypes, meta, out any) error {
	if d == nil {
		d = model.DispatchFunc(func(model.Action) {})
	}
	d.Dispatch(model.Action{Type: types.Req, Meta: meta})

	fail := func(serr *model.ServiceError) error {
		d.Dispatch(model.Action{Type: types.Err, Payload: serr, Meta: meta})
		d.Dispatch(model.Action{Type: model.ActionAlert, Payload: serr})
		return serr
	}

	resp, err := c.Get(ctx, path, query)
	if err != nil {
		var serr *model.ServiceError
		if errors.As(err, &serr) {
			return fail(serr)
		}
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fail(FormatServerError(http.StatusBadGateway, "", "malformed JSON response: "+err.Error()))
	}
	d.Dispatch(model.Action{Type: types.Resp, Payload: out, Meta: meta})
	return nil
}

// do runs one HTTP exchange behind the limiter and breaker. Transport
// failures are classified into *model.ServiceError.
func (c *Client) do(ctx context.Context, method, u string, header http.Header, body io.Reader) (*http.Response, *model.ServiceError) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.metrics.RecordRateLimited()
			return nil, &model.ServiceError{Code: CodeTimeout, Message: "Rate limit wait aborted", Detail: err.Error()}
		}
	}
	if err := c.breaker.Allow(); err != nil {
		return nil, &model.ServiceError{
			Code:    CodeCircuitOpen,
			Message: http.StatusText(http.StatusServiceUnavailable),
			Detail:  err.Error(),
			Status:  http.StatusServiceUnavailable,
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, &model.ServiceError{Code: CodeNetworkError, Message: "Invalid request", Detail: err.Error()}
	}
	applyHeaders(ctx, req, header)

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		if ctx.Err() != nil || isTimeout(err) {
			return nil, &model.ServiceError{Code: CodeTimeout, Message: "Request timed out", Detail: err.Error()}
		}
		return nil, &model.ServiceError{Code: CodeNetworkError, Message: "Network error", Detail: err.Error()}
	}
	return resp, nil
}

// recordStatus feeds a non-2xx status to the breaker. Client errors are not
// infrastructure failures and leave the breaker untouched.
func (c *Client) recordStatus(status int) {
	if status >= 500 {
		c.breaker.RecordFailure()
	}
}

func applyHeaders(ctx context.Context, req *http.Request, extra http.Header) {
	req.Header.Set("Accept", "application/json")
	if req.Method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		if bearer := rctx.BearerHeader(); bearer != "" {
			req.Header.Set("Authorization", sanitizeHeader(bearer))
		}
		if rctx.CorrelationID != "" {
			req.Header.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		}
		if rctx.Language != "" {
			req.Header.Set("Accept-Language", sanitizeHeader(rctx.Language))
		}
	}
	if o := outboundFrom(ctx); o != nil {
		for k, vs := range o.header {
			for _, v := range vs {
				req.Header.Add(sanitizeHeader(k), sanitizeHeader(v))
			}
		}
		for _, ck := range o.cookies {
			req.AddCookie(ck)
		}
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, sanitizeHeader(v))
		}
	}
	observability.InjectTraceHeaders(ctx, req.Header)
}

type outboundKey struct{}

type outbound struct {
	header  http.Header
	cookies []*http.Cookie
}

// WithOutbound attaches extra headers and cookies to every backend request
// made with the returned context. Used to forward the CSRF token and session
// cookies on login.
func WithOutbound(ctx context.Context, header http.Header, cookies ...*http.Cookie) context.Context {
	return context.WithValue(ctx, outboundKey{}, &outbound{header: header, cookies: cookies})
}

func outboundFrom(ctx context.Context) *outbound {
	o, _ := ctx.Value(outboundKey{}).(*outbound)
	return o
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func outcomeFor(serr *model.ServiceError) string {
	if serr.Code == CodeCircuitOpen {
		return "rejected"
	}
	return "server_error"
}

// rootField returns the first selected root field of a document, used to
// label spans.
func rootField(document string) string {
	brace := strings.Index(document, "{")
	if brace < 0 {
		return ""
	}
	rest := strings.TrimSpace(document[brace+1:])
	if end := strings.IndexAny(rest, "( {\n\t"); end >= 0 {
		return rest[:end]
	}
	return rest
}
