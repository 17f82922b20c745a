// Package history persists generation records in a quota-aware, ordered
// collection and resolves them to displayable URLs.
package history

import "github.com/Aegis-plus/AIGEN/internal/imaging"

// SourceType tags the fallback payload kept when hosting failed.
type SourceType string

const (
	// SourceURL keeps the original ephemeral URL.
	SourceURL SourceType = "url"
	// SourceBase64 keeps the inline base64 payload.
	SourceBase64 SourceType = "b64_json"
)

// Source is the locally-viewable fallback payload of a record whose hosting
// could not be completed.
type Source struct {
	Type SourceType `json:"type"`
	Data string     `json:"data"`
}

// Record is one persisted generation. CreatedAt doubles as the unique
// identifier and the sort key; the collection is kept newest-first.
type Record struct {
	CreatedAt int64  `json:"createdAt"`
	Prompt    string `json:"prompt"`
	ModelID   string `json:"modelId"`

	// HostedURL is set once hosting succeeded.
	HostedURL string `json:"hostedUrl,omitempty"`
	// Source is retained only when hosting could not be completed.
	Source *Source `json:"source,omitempty"`

	// ImageURL survives from records written by earlier revisions of the
	// persisted layout. Read-only; never written by current code.
	ImageURL string `json:"imageUrl,omitempty"`
}

// PlaceholderURL is the inert URL returned for records with nothing
// displayable.
const PlaceholderURL = "about:blank"

// ResolveDisplayURL returns a renderable URL for the record. offlineURL, when
// non-empty, points at a locally cached copy and wins over everything else.
// Precedence after that: hosted URL, retained source payload, legacy field,
// inert placeholder. Pure and total; never fails.
func ResolveDisplayURL(rec Record, offlineURL string) string {
	if offlineURL != "" {
		return offlineURL
	}
	if rec.HostedURL != "" {
		return rec.HostedURL
	}
	if rec.Source != nil {
		switch rec.Source.Type {
		case SourceBase64:
			return imaging.DataURL(imaging.DefaultMIMEType, rec.Source.Data)
		case SourceURL:
			return rec.Source.Data
		}
	}
	if rec.ImageURL != "" {
		return rec.ImageURL
	}
	return PlaceholderURL
}
