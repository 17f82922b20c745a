package hosting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Aegis-plus/AIGEN/internal/generation"
	"github.com/Aegis-plus/AIGEN/internal/imaging"
)

// Strategy names recorded in composite hosting errors.
const (
	strategyDecodeInline   = "decode-inline"
	strategyUploadBinary   = "upload-binary"
	strategyRemoteTransfer = "remote-transfer"
	strategyRelayDownload  = "relay-download"
)

// Uploader is the hosting backend surface the orchestrator sequences.
type Uploader interface {
	UploadBlob(ctx context.Context, data []byte, mimeType string) (string, error)
	UploadRemote(ctx context.Context, srcURL string) (string, error)
}

// Downloader recovers image bytes when the backend cannot fetch the source.
type Downloader interface {
	Download(ctx context.Context, srcURL string) ([]byte, string, error)
}

// StrategyFailure records one failed hosting strategy.
type StrategyFailure struct {
	Strategy string
	Err      error
}

// HostError is the composite error raised when every hosting strategy is
// exhausted. It names each attempted strategy so callers can distinguish "no
// durable URL obtained" from an operation failure, and log what was tried.
type HostError struct {
	Attempts []StrategyFailure
}

func (e *HostError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", attempt.Strategy, attempt.Err))
	}
	return "hosting failed (" + strings.Join(parts, "; ") + ")"
}

func (e *HostError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		errs = append(errs, attempt.Err)
	}
	return errs
}

// Orchestrator sequences hosting strategies so a single hosting-layer failure
// does not fail the overall operation. Ordering is cheapest-first: the
// backend's server-side transfer before the client-side relay hop.
type Orchestrator struct {
	uploader   Uploader
	downloader Downloader
}

// NewOrchestrator wires the strategy chain.
func NewOrchestrator(uploader Uploader, downloader Downloader) *Orchestrator {
	return &Orchestrator{
		uploader:   uploader,
		downloader: downloader,
	}
}

// Host obtains a durable public URL for the generation result. On exhaustion
// it returns a *HostError naming every attempted strategy; the caller decides
// whether to degrade to a locally-viewable record or fail the operation.
func (o *Orchestrator) Host(ctx context.Context, res generation.Result) (string, error) {
	switch res.Kind {
	case generation.KindInlineData:
		return o.hostInline(ctx, res)
	case generation.KindRemoteURL:
		return o.hostRemote(ctx, res.URL)
	default:
		return "", fmt.Errorf("cannot host result of unknown kind %q", res.Kind)
	}
}

// hostInline decodes the payload and uploads it directly. There is no further
// fallback for inline data; the bytes are already local.
func (o *Orchestrator) hostInline(ctx context.Context, res generation.Result) (string, error) {
	data, err := imaging.DecodeBase64(res.DataBase64)
	if err != nil {
		return "", &HostError{Attempts: []StrategyFailure{{Strategy: strategyDecodeInline, Err: err}}}
	}

	mimeType := res.MIMEType
	if mimeType == "" {
		mimeType = imaging.DefaultMIMEType
	}

	hostedURL, err := o.uploader.UploadBlob(ctx, data, mimeType)
	if err != nil {
		return "", &HostError{Attempts: []StrategyFailure{{Strategy: strategyUploadBinary, Err: err}}}
	}
	return hostedURL, nil
}

// hostRemote tries the server-side transfer first, then downloads the bytes
// through the relay chain and re-uploads them as a blob.
func (o *Orchestrator) hostRemote(ctx context.Context, srcURL string) (string, error) {
	hostedURL, remoteErr := o.uploader.UploadRemote(ctx, srcURL)
	if remoteErr == nil {
		return hostedURL, nil
	}
	slog.Warn("hosting: remote transfer failed, falling back to relay download", "error", remoteErr)
	attempts := []StrategyFailure{{Strategy: strategyRemoteTransfer, Err: remoteErr}}

	data, mimeType, downloadErr := o.downloader.Download(ctx, srcURL)
	if downloadErr != nil {
		attempts = append(attempts, StrategyFailure{Strategy: strategyRelayDownload, Err: downloadErr})
		return "", &HostError{Attempts: attempts}
	}

	hostedURL, uploadErr := o.uploader.UploadBlob(ctx, data, mimeType)
	if uploadErr != nil {
		attempts = append(attempts, StrategyFailure{Strategy: strategyUploadBinary, Err: uploadErr})
		return "", &HostError{Attempts: attempts}
	}
	return hostedURL, nil
}
