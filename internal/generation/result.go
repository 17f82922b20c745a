// Package generation calls the text-to-image capability and models its raw
// output as a tagged union consumed by the hosting pipeline.
package generation

import "fmt"

// Kind discriminates the two shapes a generation result can take.
type Kind string

const (
	// KindRemoteURL marks a result referenced by an ephemeral remote URL.
	KindRemoteURL Kind = "remote_url"
	// KindInlineData marks a result delivered as inline base64 bytes.
	KindInlineData Kind = "inline_data"
)

// Result is the raw output of one generation call. Exactly one variant is
// populated, selected by Kind; consumers must switch exhaustively.
type Result struct {
	Kind Kind

	// URL is set for KindRemoteURL.
	URL string

	// DataBase64 and MIMEType are set for KindInlineData. MIMEType may be
	// empty when the provider did not declare one.
	DataBase64 string
	MIMEType   string
}

// RemoteURL builds a remote-URL result.
func RemoteURL(url string) Result {
	return Result{Kind: KindRemoteURL, URL: url}
}

// InlineData builds an inline-data result.
func InlineData(dataBase64, mimeType string) Result {
	return Result{Kind: KindInlineData, DataBase64: dataBase64, MIMEType: mimeType}
}

// Validate checks that the populated variant matches the declared kind.
func (r Result) Validate() error {
	switch r.Kind {
	case KindRemoteURL:
		if r.URL == "" {
			return fmt.Errorf("remote_url result has empty URL")
		}
	case KindInlineData:
		if r.DataBase64 == "" {
			return fmt.Errorf("inline_data result has empty payload")
		}
	default:
		return fmt.Errorf("unknown result kind %q", r.Kind)
	}
	return nil
}

// Model identifies a selectable text-to-image model and the provider that
// serves it. Provider names drive request-shape quirks in the client.
type Model struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Provider string `yaml:"provider" json:"provider"`
}
