package extruct

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// DefaultBaseURL is the public Extruct API host.
const DefaultBaseURL = "https://api.extruct.ai"

// Credentials authenticate requests against the Extruct API.
type Credentials struct {
	// APIToken is sent as "Authorization: Bearer <token>".
	APIToken string
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
}

// Validate checks that the token is present and the base URL is usable.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.APIToken) == "" {
		return fmt.Errorf("extruct api token is required")
	}
	_, err := normalizeBaseURL(c.BaseURL)
	return err
}

// AuthorizationHeader returns the header value for authenticated requests.
func (c Credentials) AuthorizationHeader() string {
	return "Bearer " + strings.TrimSpace(c.APIToken)
}

// Test performs the credential check request (a table listing) and reports
// whether the token is accepted.
func (c Credentials) Test(ctx context.Context, opts ClientOptions) error {
	client, err := NewClient(c, opts)
	if err != nil {
		return err
	}
	_, err = client.ListTables(ctx)
	return err
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultBaseURL, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse extruct base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("extruct base URL scheme must be http or https (got %q)", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("extruct base URL must include a host (got %q)", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}
