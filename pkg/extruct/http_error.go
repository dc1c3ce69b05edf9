package extruct

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/shpitdev/extruct-enrichment/pkg/pipeline/redact"
)

// HTTPError is a sanitized summary of a non-2xx Extruct API response.
//
// Raw response bodies are never kept: they can echo row data or tokens.
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string

	// Message is the API's own error message, when the body carried one.
	Message string
	// Snippet is a redacted, truncated hint for bodies without a recognizable message.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "extruct http error"
	}
	parts := []string{
		fmt.Sprintf("extruct api error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.Message) != "" {
		parts = append(parts, "message="+strings.TrimSpace(e.Message))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

func newHTTPError(op string, resp *resty.Response) error {
	h := &HTTPError{Op: op}
	if resp == nil {
		return h
	}
	h.StatusCode = resp.StatusCode()
	h.Status = resp.Status()
	if h.Status == "" {
		h.Status = fmt.Sprintf("%d %s", h.StatusCode, http.StatusText(h.StatusCode))
	}

	body := resp.Body()
	if gjson.ValidBytes(body) {
		for _, path := range []string{"detail", "message", "error.message", "error"} {
			v := gjson.GetBytes(body, path)
			if v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
				h.Message = truncate(redact.Secrets(v.String()), 256)
				return h
			}
		}
	}

	h.Snippet = redactAndTruncate(body)
	return h
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := redact.Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether the API rejected the credentials.
func IsUnauthorized(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && (he.StatusCode == http.StatusUnauthorized || he.StatusCode == http.StatusForbidden)
}

// IsTransient reports whether a request that failed with err may succeed when sent again:
// rate limiting, server errors and network timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusTooManyRequests || he.StatusCode == http.StatusRequestTimeout || he.StatusCode/100 == 5
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// IsRetryableSubmit reports whether a failed add-rows request certainly created nothing:
// the API refused it (429, 502, 503, 504) or the connection was never established.
// Timeouts are excluded because the row may already exist.
func IsRetryableSubmit(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		switch he.StatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var oe *net.OpError
	return errors.As(err, &oe) && oe.Op == "dial"
}
