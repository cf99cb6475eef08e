// internal/fingerprint/fingerprint.go
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"repository-reconciler/internal/model"
)

// content is the canonical form that gets hashed. Field order is fixed by the struct,
// and the key fields (machine name, source id) are deliberately absent.
type content struct {
	Label          string  `json:"label"`
	Description    *string `json:"description"`
	OpenIssueCount int     `json:"open_issue_count"`
	CanonicalURL   string  `json:"canonical_url"`
}

// Compute returns the hex encoded SHA-256 of the metadata content fields.
func Compute(m model.Metadata) string {
	// Marshal cannot fail for strings, ints and string pointers.
	data, _ := json.Marshal(content{
		Label:          m.Label,
		Description:    m.Description,
		OpenIssueCount: m.OpenIssueCount,
		CanonicalURL:   m.CanonicalURL,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NeedsUpdate reports whether a record stored with the existing fingerprint is out of date.
func NeedsUpdate(existing string, m model.Metadata) bool {
	return Compute(m) != existing
}
