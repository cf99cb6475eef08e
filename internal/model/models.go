// internal/model/models.go
package model

import "time"

// Metadata is the normalized description of one external repository, as returned by a connector.
type Metadata struct {
	MachineName    string  `json:"machine_name"`
	Label          string  `json:"label"`
	Description    *string `json:"description"`
	OpenIssueCount int     `json:"open_issue_count"`
	SourceID       string  `json:"source_id"`
	CanonicalURL   string  `json:"canonical_url"`
}

// Record is the persisted local mirror of one piece of external metadata.
// A record belongs to exactly one account for its whole life.
type Record struct {
	ID             int64     `json:"id"`
	OwnerAccountID int64     `json:"owner_account_id"`
	MachineName    string    `json:"machine_name"`
	SourceID       string    `json:"source_id"`
	Label          string    `json:"label"`
	Description    *string   `json:"description"`
	OpenIssueCount int       `json:"open_issue_count"`
	CanonicalURL   string    `json:"canonical_url"`
	Fingerprint    string    `json:"fingerprint"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Apply copies the content fields of m onto the record. Key fields and ownership are left alone.
func (r *Record) Apply(m Metadata, fingerprint string) {
	r.Label = m.Label
	r.Description = m.Description
	r.OpenIssueCount = m.OpenIssueCount
	r.CanonicalURL = m.CanonicalURL
	r.Fingerprint = fingerprint
}

// NewRecord builds an unsaved record for the given owner from fetched metadata.
func NewRecord(ownerAccountID int64, m Metadata, fingerprint string) Record {
	r := Record{
		OwnerAccountID: ownerAccountID,
		MachineName:    m.MachineName,
		SourceID:       m.SourceID,
	}
	r.Apply(m, fingerprint)
	return r
}

// Account is a user that declares source URLs and owns repository records.
type Account struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Active     bool     `json:"active"`
	SourceURLs []string `json:"source_urls"`
}
