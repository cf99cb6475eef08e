// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"repository-reconciler/internal/connector"
	custom_errors "repository-reconciler/internal/errors"
	"repository-reconciler/internal/model"
	"repository-reconciler/internal/secrets"
)

const (
	// ConnectorID identifies this connector in the registry and on stored records.
	ConnectorID = "github"

	// DefaultTimeout is the HTTP timeout of a single API call.
	DefaultTimeout = 30 * time.Second

	// TokenField is the secret field holding the API token.
	TokenField = "personal_access_token"
)

// Ensure Connector implements the interface.
var _ connector.Connector = (*Connector)(nil)

// Options configures a Connector.
type Options struct {
	// Host is the web host repository URLs must point at, e.g. github.com.
	Host string
	// APIBaseURL overrides the API endpoint (GitHub Enterprise or tests).
	APIBaseURL string
	// SecretName is looked up in the secret store before every fetch.
	SecretName string
	// RateLimit is the number of API calls per second allowed from this process.
	RateLimit float64
}

// Connector fetches repository metadata from the GitHub REST API.
type Connector struct {
	secrets    secrets.Provider
	secretName string
	host       string
	apiBaseURL *url.URL
	pattern    *regexp.Regexp
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewConnector creates and configures a new Connector instance.
func NewConnector(provider secrets.Provider, opts Options, logger *slog.Logger) (*Connector, error) {
	if opts.Host == "" {
		opts.Host = "github.com"
	}
	if opts.SecretName == "" {
		opts.SecretName = "github"
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 1
	}

	c := &Connector{
		secrets:    provider,
		secretName: opts.SecretName,
		host:       opts.Host,
		pattern:    regexp.MustCompile(`^https://` + regexp.QuoteMeta(opts.Host) + `/[a-zA-Z0-9_\-]+/[a-zA-Z0-9_\-]+$`),
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		logger:     logger.With("connector", ConnectorID),
	}

	if opts.APIBaseURL != "" {
		base, err := url.Parse(opts.APIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", opts.APIBaseURL, err)
		}
		if !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}
		c.apiBaseURL = base
	}

	return c, nil
}

// ID implements connector.Connector.
func (c *Connector) ID() string { return ConnectorID }

// Label implements connector.Connector.
func (c *Connector) Label() string { return "GitHub" }

// HelpText implements connector.Connector.
func (c *Connector) HelpText() string {
	return fmt.Sprintf("https://%s/vendor/name", c.host)
}

// Validate implements connector.Connector.
func (c *Connector) Validate(uri string) bool {
	return c.pattern.MatchString(uri)
}

// Fetch gets the repository behind uri and translates it to our internal model.
func (c *Connector) Fetch(ctx context.Context, uri string) (*model.Metadata, error) {
	owner, name, err := c.splitURI(uri)
	if err != nil {
		return nil, c.fail(uri, "unsupported url", false, err)
	}

	client, err := c.client(ctx)
	if err != nil {
		return nil, c.fail(uri, "authentication", false, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.fail(uri, "rate limiter", true, err)
	}

	c.logger.Debug("Fetching repository", "owner", owner, "repo", name)
	repo, resp, err := client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, c.classify(uri, resp, err)
	}
	return toMetadata(repo), nil
}

// client builds an authenticated go-github client from the configured secret.
// Secrets are read on every call so rotated tokens are picked up without a restart.
func (c *Connector) client(ctx context.Context) (*github.Client, error) {
	secret, err := c.secrets.GetSecret(c.secretName)
	if err != nil {
		return nil, err
	}
	token := secret[TokenField]
	if token == "" {
		token = secret[secrets.ValueField]
	}
	if token == "" {
		return nil, fmt.Errorf("secret %q has no %s field", c.secretName, TokenField)
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = DefaultTimeout

	gh := github.NewClient(tc)
	if c.apiBaseURL != nil {
		gh.BaseURL = c.apiBaseURL
	}
	return gh, nil
}

// splitURI extracts owner and repository name from a validated URI.
func (c *Connector) splitURI(uri string) (string, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &custom_errors.ErrInvalidSourceURL{URL: uri}
	}
	return parts[0], parts[1], nil
}

// classify maps a go-github failure onto NotFound or a ConnectorError.
func (c *Connector) classify(uri string, resp *github.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", custom_errors.ErrRemoteNotFound, uri)
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return c.fail(uri, "rate limited", true, err)
	case errors.Is(err, context.DeadlineExceeded):
		return c.fail(uri, "timeout", true, err)
	case resp == nil:
		return c.fail(uri, "transport", true, err)
	case resp.StatusCode >= http.StatusInternalServerError:
		return c.fail(uri, fmt.Sprintf("server error %d", resp.StatusCode), true, err)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return c.fail(uri, "unauthorized", false, err)
	default:
		return c.fail(uri, fmt.Sprintf("unexpected status %d", resp.StatusCode), false, err)
	}
}

func (c *Connector) fail(uri, reason string, temporary bool, err error) error {
	return &custom_errors.ConnectorError{
		Connector: ConnectorID,
		URI:       uri,
		Reason:    reason,
		Temporary: temporary,
		Err:       err,
	}
}

// toMetadata translates a github.Repository object to our internal model.Metadata.
func toMetadata(r *github.Repository) *model.Metadata {
	return &model.Metadata{
		MachineName:    r.GetFullName(),
		Label:          r.GetName(),
		Description:    r.Description,
		OpenIssueCount: r.GetOpenIssuesCount(),
		SourceID:       ConnectorID,
		CanonicalURL:   r.GetHTMLURL(),
	}
}
