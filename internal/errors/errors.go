// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteNotFound is returned by a connector when the URI has the right shape but the remote item does not exist.
	ErrRemoteNotFound = errors.New("remote repository not found")

	// ErrNoConnectors is reported when no source connector is enabled.
	ErrNoConnectors = errors.New("no enabled repository connectors")

	// ErrAccountNotFound is returned by record stores for unknown account ids.
	ErrAccountNotFound = errors.New("account not found")

	// ErrSecretNotFound is returned by secret providers when no secret exists under a name.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrRunInProgress is returned when a full run is requested while another one is still going.
	ErrRunInProgress = errors.New("a reconciliation run is already in progress")
)

// ErrInvalidSourceURL is reported when a URL does not match any enabled connector pattern.
type ErrInvalidSourceURL struct {
	URL string
}

func (e *ErrInvalidSourceURL) Error() string {
	return fmt.Sprintf("invalid source url: %q does not match any enabled connector", e.URL)
}

// ConnectorError describes a failed fetch: network, authentication or malformed payload.
// Temporary failures may be retried by the caller.
type ConnectorError struct {
	Connector string `json:"connector"`
	URI       string `json:"uri"`
	Reason    string `json:"reason"`
	Temporary bool   `json:"temporary"`
	Err       error  `json:"-"`
}

func (e *ConnectorError) Error() string {
	msg := fmt.Sprintf("connector %s: %s: %s", e.Connector, e.URI, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectorError) Unwrap() error {
	return e.Err
}

// IsTemporary reports whether err carries a ConnectorError marked as temporary.
func IsTemporary(err error) bool {
	var cerr *ConnectorError
	return errors.As(err, &cerr) && cerr.Temporary
}

// OwnershipConflictError is reported when a machine name is already owned by another account.
type OwnershipConflictError struct {
	URL         string
	MachineName string
}

func (e *OwnershipConflictError) Error() string {
	return fmt.Sprintf("repository %q from %q is already owned by another account", e.MachineName, e.URL)
}

// UnitFailureError wraps an unexpected failure of one account's reconciliation unit.
type UnitFailureError struct {
	AccountID int64
	Err       error
}

func (e *UnitFailureError) Error() string {
	return fmt.Sprintf("reconciliation of account %d failed: %v", e.AccountID, e.Err)
}

func (e *UnitFailureError) Unwrap() error {
	return e.Err
}
