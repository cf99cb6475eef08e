// internal/connector/connector.go
package connector

import (
	"context"

	"repository-reconciler/internal/model"
)

// Connector validates and fetches repository metadata from one kind of external source.
//
// Fetch reports its outcome through the returned error: nil with metadata on success,
// an error matching errors.ErrRemoteNotFound when the remote item is absent, and a
// *errors.ConnectorError for every other failure. Connectors never retry on their own.
type Connector interface {
	// ID is the registry identifier, also stored as the record's source id.
	ID() string
	Label() string
	// Validate is a pure pattern match and must not perform I/O.
	Validate(uri string) bool
	HelpText() string
	Fetch(ctx context.Context, uri string) (*model.Metadata, error)
}
