package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const tracerName = "github.com/dalemusser/authhub/internal/app/system/identity"

// maxResponseBytes caps how much of a backend response is read.
const maxResponseBytes = 1 << 20

// client speaks the backend's REST API. It is shared by every request;
// per-request state lives in the adapters.
type client struct {
	base    *url.URL
	anonKey string
	http    *http.Client
	tracer  trace.Tracer
	log     *zap.Logger
}

func newClient(rawURL, anonKey string, hc *http.Client, log *zap.Logger) (*client, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("identity: invalid backend URL %q", rawURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(u.Path, "/auth/v1") {
		u.Path += "/auth/v1"
	}
	u.RawQuery = ""
	u.Fragment = ""
	if hc == nil {
		hc = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &client{
		base:    u,
		anonKey: anonKey,
		http:    hc,
		tracer:  otel.Tracer(tracerName),
		log:     log,
	}, nil
}

// endpoint returns the absolute URL of path under the API base.
func (c *client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// httpClient returns a client that adds bearer auth when accessToken is set.
func (c *client) httpClient(ctx context.Context, accessToken string) *http.Client {
	if accessToken == "" {
		return c.http
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
}

// call performs one API request. body and out may be nil.
func (c *client) call(ctx context.Context, op, method, path string, query url.Values, accessToken string, body, out any) error {
	ctx, span := c.tracer.Start(ctx, "identity."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("identity.path", path),
	)

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("identity %s: encode: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), rdr)
	if err != nil {
		return fmt.Errorf("identity %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
		if accessToken == "" {
			req.Header.Set("Authorization", "Bearer "+c.anonKey)
		}
	}

	resp, err := c.httpClient(ctx, accessToken).Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return fmt.Errorf("identity %s: %w", op, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read")
		return fmt.Errorf("identity %s: read: %w", op, err)
	}

	if resp.StatusCode >= 300 {
		apiErr := decodeError(resp.StatusCode, data)
		span.SetStatus(codes.Error, apiErr.Code)
		c.log.Debug("identity backend rejected call",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code))
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		span.RecordError(err)
		return fmt.Errorf("identity %s: decode: %w", op, err)
	}
	return nil
}

// errorBody covers the error shapes of both API generations.
type errorBody struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
	ErrorCode        string `json:"error_code"`
}

func decodeError(status int, data []byte) *Error {
	e := &Error{Status: status}
	var b errorBody
	if json.Unmarshal(data, &b) != nil {
		e.Message = strings.TrimSpace(string(data))
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
		return e
	}
	for _, m := range []string{b.Msg, b.ErrorDescription, b.Message, b.Error} {
		if m != "" {
			e.Message = m
			break
		}
	}
	e.Code = b.ErrorCode
	if e.Code == "" {
		e.Code = b.Error
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
