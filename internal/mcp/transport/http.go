package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/elnormous/contenttype"
	"github.com/rs/zerolog"
)

const maxRedirects = 10

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
	acceptHeader         = jsonMediaType.String() + ", " + eventStreamMediaType.String()
)

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	// Endpoint is the absolute URL every message is POSTed to.
	Endpoint string
	// BearerToken, when set, is sent as "Authorization: Bearer <token>".
	BearerToken string
	// Timeout bounds connecting and the whole exchange, including reading the body.
	Timeout time.Duration
}

// HTTPOption is a functional option for HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the HTTP client built from HTTPConfig.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) {
		t.httpClient = c
	}
}

// WithHTTPLogger sets the logger for per-exchange diagnostics.
func WithHTTPLogger(log zerolog.Logger) HTTPOption {
	return func(t *HTTPTransport) {
		t.log = log
	}
}

// HTTPTransport sends each message as one POST to the remote endpoint and
// turns the response into payload lines.
type HTTPTransport struct {
	endpoint   string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

var _ Exchanger = (*HTTPTransport)(nil)

// NewHTTPTransport creates a new HTTP transport.
func NewHTTPTransport(cfg HTTPConfig, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		endpoint:   cfg.Endpoint,
		token:      cfg.BearerToken,
		httpClient: newHTTPClient(cfg.Timeout),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func newHTTPClient(timeout time.Duration) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	return &http.Client{
		Timeout:       timeout,
		Transport:     base,
		CheckRedirect: checkRedirect,
	}
}

func checkRedirect(_ *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, maxRedirects)
	}
	return nil
}

// Exchange POSTs body and decodes the response.
//
// A 202 Accepted or a blank body yields no payloads. A text/event-stream body
// is split into one payload per event. Any other body is returned verbatim as
// a single payload, whatever the status code.
func (t *HTTPTransport) Exchange(ctx context.Context, body string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(body))
	if err != nil {
		return nil, retryable("create request", err)
	}

	req.Header.Set("Content-Type", jsonMediaType.String())
	req.Header.Set("Accept", acceptHeader)
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, ErrTooManyRedirects) {
			return nil, fatal("send request", err)
		}
		return nil, retryable("send request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, retryable("read response", err)
		}
		return nil, fatal("read response", err)
	}

	if resp.StatusCode == http.StatusAccepted {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.log.Warn().
			Int("status", resp.StatusCode).
			Msg("remote endpoint returned non-success status, relaying body")
	}

	if !utf8.Valid(data) {
		return nil, fatal("decode response", ErrInvalidUTF8)
	}

	text := string(data)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	if isEventStream(resp.Header.Get("Content-Type")) {
		payloads := DecodeEventStream(text)
		t.log.Debug().Int("count", len(payloads)).Msg("parsed SSE response")
		return payloads, nil
	}

	return []string{text}, nil
}

func isEventStream(header string) bool {
	if strings.TrimSpace(header) == "" {
		return false
	}
	ctype := contenttype.NewMediaType(header)
	return ctype.Matches(eventStreamMediaType)
}
