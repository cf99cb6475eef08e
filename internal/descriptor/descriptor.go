// internal/descriptor/descriptor.go
package descriptor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"repository-reconciler/internal/connector"
	custom_errors "repository-reconciler/internal/errors"
	"repository-reconciler/internal/model"
)

const (
	// ConnectorID identifies this connector in the registry and on stored records.
	ConnectorID = "yml_remote"

	// DefaultTimeout is the HTTP timeout for downloading one descriptor.
	DefaultTimeout = 30 * time.Second

	maxDocumentSize = 1 << 20
)

var uriPattern = regexp.MustCompile(`^https?://[a-zA-Z0-9.\-]+(:[0-9]+)?/[a-zA-Z0-9_\-.%/]+\.ya?ml$`)

// Ensure Connector implements the interface.
var _ connector.Connector = (*Connector)(nil)

// Connector reads repository metadata from a YAML document served over HTTP(S).
//
// The document holds a single top-level mapping keyed by machine name:
//
//	batman-repo:
//	  label: 'The Batman repository'
//	  description: 'This is where Batman keeps all his crime-fighting code.'
//	  num_open_issues: 6
type Connector struct {
	httpClient *http.Client
	logger     *slog.Logger
}

type document struct {
	Label         string  `yaml:"label"`
	Description   *string `yaml:"description"`
	NumOpenIssues int     `yaml:"num_open_issues"`
}

// NewConnector creates a Connector. A nil httpClient gets one with DefaultTimeout.
func NewConnector(httpClient *http.Client, logger *slog.Logger) *Connector {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Connector{
		httpClient: httpClient,
		logger:     logger.With("connector", ConnectorID),
	}
}

// ID implements connector.Connector.
func (c *Connector) ID() string { return ConnectorID }

// Label implements connector.Connector.
func (c *Connector) Label() string { return "Remote .yml file" }

// HelpText implements connector.Connector.
func (c *Connector) HelpText() string {
	return "https://anything.anything/anything/anything.yml (or http or yaml)"
}

// Validate implements connector.Connector.
func (c *Connector) Validate(uri string) bool {
	return uriPattern.MatchString(uri)
}

// Fetch downloads and parses the descriptor at uri.
// An unreachable document is reported as not found; an unparsable one is a ConnectorError.
func (c *Connector) Fetch(ctx context.Context, uri string) (*model.Metadata, error) {
	body, err := c.download(ctx, uri)
	if err != nil {
		return nil, err
	}
	meta, err := Parse(body, uri)
	if err != nil {
		return nil, &custom_errors.ConnectorError{
			Connector: ConnectorID,
			URI:       uri,
			Reason:    "malformed descriptor",
			Err:       err,
		}
	}
	return meta, nil
}

func (c *Connector) download(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, &custom_errors.ConnectorError{Connector: ConnectorID, URI: uri, Reason: "invalid request", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &custom_errors.ConnectorError{Connector: ConnectorID, URI: uri, Reason: "timeout", Temporary: true, Err: err}
		}
		c.logger.Info("Descriptor unreachable", "url", uri, "error", err)
		return nil, fmt.Errorf("%w: %s", custom_errors.ErrRemoteNotFound, uri)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Info("Descriptor not available", "url", uri, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: %s (status %d)", custom_errors.ErrRemoteNotFound, uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, &custom_errors.ConnectorError{Connector: ConnectorID, URI: uri, Reason: "read body", Temporary: true, Err: err}
	}
	if len(body) > maxDocumentSize {
		return nil, &custom_errors.ConnectorError{
			Connector: ConnectorID,
			URI:       uri,
			Reason:    "descriptor too large",
			Err:       fmt.Errorf("document exceeds %d bytes", maxDocumentSize),
		}
	}
	return body, nil
}

// Parse decodes a descriptor document. The first top-level key is the machine name.
func Parse(data []byte, uri string) (*model.Metadata, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, errors.New("empty document")
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode || len(mapping.Content) < 2 {
		return nil, errors.New("document is not a mapping keyed by machine name")
	}

	machineName := mapping.Content[0].Value
	if machineName == "" {
		return nil, errors.New("missing machine name")
	}

	var doc document
	if err := mapping.Content[1].Decode(&doc); err != nil {
		return nil, fmt.Errorf("repository %q: %w", machineName, err)
	}
	if doc.Label == "" {
		return nil, fmt.Errorf("repository %q: missing label", machineName)
	}
	if doc.NumOpenIssues < 0 {
		return nil, fmt.Errorf("repository %q: num_open_issues must not be negative", machineName)
	}

	return &model.Metadata{
		MachineName:    machineName,
		Label:          doc.Label,
		Description:    doc.Description,
		OpenIssueCount: doc.NumOpenIssues,
		SourceID:       ConnectorID,
		CanonicalURL:   uri,
	}, nil
}
