// Package core wires the generation, hosting, history and offline layers into
// one pipeline service and owns the ordering guarantees between them.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Aegis-plus/AIGEN/internal/generation"
	"github.com/Aegis-plus/AIGEN/internal/history"
	"github.com/Aegis-plus/AIGEN/internal/hosting"
	"github.com/Aegis-plus/AIGEN/internal/imaging"
	"github.com/Aegis-plus/AIGEN/internal/offline"
	"github.com/Aegis-plus/AIGEN/internal/storage"
)

// lastPromptStorageKey holds the most recently submitted prompt so the UI can
// restore it across sessions.
const lastPromptStorageKey = "aigen:lastprompt"

// ErrGenerationInFlight is returned when a generation is requested while a
// previous one is still running. One generation at a time keeps history
// ordering and the hosting session predictable.
var ErrGenerationInFlight = errors.New("a generation is already in progress")

// Generator produces an image for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, model generation.Model, width, height int) (generation.Result, error)
}

// Hoster turns a generation result into a durable public URL.
type Hoster interface {
	Host(ctx context.Context, res generation.Result) (string, error)
}

// GenerateOutcome reports one completed generation. Durable is false when
// every hosting strategy failed and the record fell back to its retained
// source payload; Warning carries the user-facing explanation in that case.
type GenerateOutcome struct {
	Record  history.Record
	Durable bool
	Pruned  bool
	Warning string
}

type CoreService struct {
	config       *ServiceConfig
	generator    Generator
	hoster       Hoster
	historyStore *history.Store
	kv           storage.KeyValue
	blobCache    offline.BlobCache
	httpClient   *http.Client
	inFlight     atomic.Bool

	// historyMu serializes every read-modify-write of the history collection.
	// The in-flight guard only keeps generations apart; a concurrent clear
	// landing between a load and its append would be written back wholesale.
	historyMu sync.Mutex
}

// NewCoreService builds the full pipeline from configuration: the redis-backed
// key-value store, the hosting client with its relay fallback chain, the
// generation client, and (when enabled) the offline blob cache.
func NewCoreService(ctx context.Context, config *ServiceConfig) (*CoreService, error) {
	kv, err := storage.NewRedisStore(ctx, config.Storage.RedisAddr, config.Storage.HistoryBudgetBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to key-value store: %w", err)
	}
	slog.Info("core: key-value store connected", "addr", config.Storage.RedisAddr)

	hostingClient := hosting.NewClient(hosting.ClientConfig{
		BaseURL:      config.Hosting.BaseURL,
		FilePrefix:   config.Hosting.FilePrefix,
		PollAttempts: config.Hosting.PollAttempts,
		PollInterval: time.Duration(config.Hosting.PollIntervalMS) * time.Millisecond,
	}, kv)
	relays := hosting.NewRelayChain(config.Hosting.Relays, nil)
	orchestrator := hosting.NewOrchestrator(hostingClient, relays)

	generator := generation.NewClient(
		config.Generation.BaseURL,
		config.Generation.APIKey,
		time.Duration(config.Generation.TimeoutSeconds)*time.Second,
	)

	var blobCache offline.BlobCache
	if config.Offline.Enabled {
		blobCache, err = offline.NewBlobCache(config.Offline.Type, config.Offline.ConnectionString)
		if err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("failed to initialize offline blob cache: %w", err)
		}
		slog.Info("core: offline blob cache enabled", "type", config.Offline.Type)
	}

	return newCoreService(config, generator, orchestrator, kv, blobCache), nil
}

// newCoreService assembles a service from pre-built collaborators.
func newCoreService(config *ServiceConfig, generator Generator, hoster Hoster, kv storage.KeyValue, blobCache offline.BlobCache) *CoreService {
	return &CoreService{
		config:       config,
		generator:    generator,
		hoster:       hoster,
		historyStore: history.NewStore(kv, config.Storage.HistoryMaxItems),
		kv:           kv,
		blobCache:    blobCache,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Generate runs the full pipeline for one prompt: generate, host, record,
// mirror. The hosting step may degrade (the record keeps its source payload
// and the outcome carries a warning), but a generation or persistence failure
// aborts the operation. Only one generation may run at a time.
func (service *CoreService) Generate(ctx context.Context, prompt, modelID string, width, height int) (GenerateOutcome, error) {
	if !service.inFlight.CompareAndSwap(false, true) {
		return GenerateOutcome{}, ErrGenerationInFlight
	}
	defer service.inFlight.Store(false)

	model, err := service.modelByID(modelID)
	if err != nil {
		return GenerateOutcome{}, err
	}

	traceID := uuid.NewString()
	slog.Info("core: starting generation", "trace_id", traceID, "model", model.ID, "width", width, "height", height)

	result, err := service.generator.Generate(ctx, prompt, model, width, height)
	if err != nil {
		return GenerateOutcome{}, fmt.Errorf("image generation failed: %w", err)
	}
	if err := result.Validate(); err != nil {
		return GenerateOutcome{}, fmt.Errorf("image generation failed: %w", err)
	}

	rec := history.Record{
		CreatedAt: time.Now().UnixMilli(),
		Prompt:    prompt,
		ModelID:   model.ID,
	}

	outcome := GenerateOutcome{Durable: true}
	hostedURL, hostErr := service.hoster.Host(ctx, result)
	if hostErr != nil {
		var hostFailure *hosting.HostError
		if !errors.As(hostErr, &hostFailure) {
			return GenerateOutcome{}, fmt.Errorf("image hosting failed: %w", hostErr)
		}
		// Every strategy was exhausted. Keep the result viewable locally and
		// tell the user the link will not outlive the source.
		slog.Warn("core: hosting exhausted all strategies, keeping local fallback",
			"trace_id", traceID, "error", hostFailure)
		rec.Source = fallbackSource(result)
		outcome.Durable = false
		outcome.Warning = "image could not be uploaded to the hosting service; the link may expire"
	} else {
		rec.HostedURL = hostedURL
	}

	service.historyMu.Lock()
	current := service.historyStore.Load(ctx)
	saved, pruned, err := service.historyStore.Append(ctx, rec, current)
	service.historyMu.Unlock()
	if err != nil {
		return GenerateOutcome{}, err
	}
	outcome.Pruned = pruned
	if len(saved) > 0 {
		// Append may have bumped the timestamp; the persisted head is canonical.
		rec = saved[0]
	}
	outcome.Record = rec

	service.mirrorOffline(ctx, rec, result)

	if err := service.SetLastPrompt(ctx, prompt); err != nil {
		slog.Warn("core: failed to remember last prompt", "trace_id", traceID, "error", err)
	}

	slog.Info("core: generation complete",
		"trace_id", traceID, "created_at", rec.CreatedAt, "durable", outcome.Durable, "pruned", outcome.Pruned)
	return outcome, nil
}

func (service *CoreService) modelByID(modelID string) (generation.Model, error) {
	for _, model := range service.config.Generation.Models {
		if model.ID == modelID {
			return model, nil
		}
	}
	return generation.Model{}, fmt.Errorf("unknown model id: %s", modelID)
}

// fallbackSource preserves whatever the generation returned so the record
// stays viewable without a hosted copy.
func fallbackSource(result generation.Result) *history.Source {
	switch result.Kind {
	case generation.KindInlineData:
		return &history.Source{Type: history.SourceBase64, Data: result.DataBase64}
	default:
		return &history.Source{Type: history.SourceURL, Data: result.URL}
	}
}

// mirrorOffline copies the image bytes into the blob cache so standalone
// deployments can show history without network access. Best-effort: a mirror
// failure is logged, never surfaced.
func (service *CoreService) mirrorOffline(ctx context.Context, rec history.Record, result generation.Result) {
	if service.blobCache == nil {
		return
	}

	data, err := service.imageBytes(ctx, rec, result)
	if err != nil {
		slog.Warn("core: failed to mirror image for offline use", "created_at", rec.CreatedAt, "error", err)
		return
	}
	if err := service.blobCache.Save(rec.CreatedAt, data); err != nil {
		slog.Warn("core: failed to store offline copy", "created_at", rec.CreatedAt, "error", err)
	}
}

func (service *CoreService) imageBytes(ctx context.Context, rec history.Record, result generation.Result) ([]byte, error) {
	if result.Kind == generation.KindInlineData {
		return imaging.DecodeBase64(result.DataBase64)
	}

	fetchURL := rec.HostedURL
	if fetchURL == "" {
		fetchURL = result.URL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := service.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image fetch returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// History returns the persisted collection, newest-first.
func (service *CoreService) History(ctx context.Context) []history.Record {
	return service.historyStore.Load(ctx)
}

// ClearHistory removes all records and any offline copies.
func (service *CoreService) ClearHistory(ctx context.Context) error {
	service.historyMu.Lock()
	err := service.historyStore.Clear(ctx)
	service.historyMu.Unlock()
	if err != nil {
		return err
	}
	if service.blobCache != nil {
		if err := service.blobCache.Clear(); err != nil {
			slog.Warn("core: failed to clear offline blob cache", "error", err)
		}
	}
	return nil
}

// OfflineImage returns the cached blob for a record, with its sniffed MIME
// type. ok is false when offline mode is disabled or no copy exists.
func (service *CoreService) OfflineImage(id int64) (data []byte, mimeType string, ok bool) {
	if service.blobCache == nil {
		return nil, "", false
	}
	data, ok, err := service.blobCache.Get(id)
	if err != nil {
		slog.Warn("core: failed to read offline copy", "id", id, "error", err)
		return nil, "", false
	}
	if !ok {
		return nil, "", false
	}
	return data, imaging.DetectMIME(data), true
}

// ResolveDisplayURL returns the best renderable URL for a record, preferring
// the offline copy when one is cached.
func (service *CoreService) ResolveDisplayURL(rec history.Record) string {
	offlineURL := ""
	if service.blobCache != nil {
		if _, ok, err := service.blobCache.Get(rec.CreatedAt); err == nil && ok {
			offlineURL = fmt.Sprintf("/api/image/%d", rec.CreatedAt)
		}
	}
	return history.ResolveDisplayURL(rec, offlineURL)
}

// LastPrompt returns the most recently submitted prompt, or "" if none.
func (service *CoreService) LastPrompt(ctx context.Context) string {
	prompt, err := service.kv.Get(ctx, lastPromptStorageKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("core: failed to read last prompt", "error", err)
		}
		return ""
	}
	return prompt
}

// SetLastPrompt persists the prompt for session restore.
func (service *CoreService) SetLastPrompt(ctx context.Context, prompt string) error {
	return service.kv.Set(ctx, lastPromptStorageKey, prompt)
}

// Models returns the configured generation models.
func (service *CoreService) Models() []generation.Model {
	return service.config.Generation.Models
}

// Close releases the service's storage handles.
func (service *CoreService) Close() error {
	var errs []error
	if service.blobCache != nil {
		if err := service.blobCache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if closer, ok := service.kv.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
