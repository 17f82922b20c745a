// Package hosting turns generation results into durable public URLs on a
// keyed file-hosting backend, with a relay-download fallback chain for
// sources the backend cannot fetch itself.
package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Aegis-plus/AIGEN/internal/imaging"
	"github.com/Aegis-plus/AIGEN/internal/storage"
)

// userKeyStorageKey holds the cached hosting session key in the key-value store.
const userKeyStorageKey = "aigen:userkey"

const (
	defaultFilePrefix   = "aigen"
	defaultPollAttempts = 10
	defaultPollInterval = 2500 * time.Millisecond
)

// Sentinel errors for hosting operations
var (
	// ErrTokenNotFound is returned when the registration response does not
	// contain the expected session token pattern.
	ErrTokenNotFound = errors.New("session token not found in registration response")
	// ErrSessionInvalid is returned on an authorization failure. The cached
	// key has been cleared; the next attempt re-registers.
	ErrSessionInvalid = errors.New("hosting session key was invalid and has been cleared, please retry")
	// ErrUploadUnverified is returned when the polling ceiling is exhausted.
	// The upload may still have succeeded server-side; this communicates
	// uncertainty, not definite data loss.
	ErrUploadUnverified = errors.New("could not verify upload on hosting service, the file may appear later")
)

// The backend returns the session token inside a script fragment of an HTML
// document rather than structured data. Keep the extraction in one place so a
// future structured-API migration only touches this pattern.
var userKeyPattern = regexp.MustCompile(`localStorage\.setItem\('userkey', '(\d+)'\)`)

// ClientConfig configures a hosting Client. Zero values fall back to the
// defaults (10 poll attempts at 2.5s spacing, "aigen" file prefix).
type ClientConfig struct {
	BaseURL      string
	FilePrefix   string
	PollAttempts int
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Client uploads images to the hosting backend and resolves their public
// URLs. The session key is cached in the key-value store and recreated on
// demand; it is invalidated wholesale on authorization failure.
type Client struct {
	baseURL      string
	filePrefix   string
	pollAttempts int
	pollInterval time.Duration
	httpClient   *http.Client
	keys         storage.KeyValue
	now          func() time.Time
}

// NewClient creates a hosting client. keys stores the cached session token.
func NewClient(cfg ClientConfig, keys storage.KeyValue) *Client {
	client := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		filePrefix:   cfg.FilePrefix,
		pollAttempts: cfg.PollAttempts,
		pollInterval: cfg.PollInterval,
		httpClient:   cfg.HTTPClient,
		keys:         keys,
		now:          time.Now,
	}
	if client.filePrefix == "" {
		client.filePrefix = defaultFilePrefix
	}
	if client.pollAttempts <= 0 {
		client.pollAttempts = defaultPollAttempts
	}
	if client.pollInterval <= 0 {
		client.pollInterval = defaultPollInterval
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return client
}

// UploadBlob submits raw image bytes as a multipart form and polls until the
// upload is visible in the backend's file listing. Returns the public URL.
func (c *Client) UploadBlob(ctx context.Context, data []byte, mimeType string) (string, error) {
	key, err := c.ensureKey(ctx)
	if err != nil {
		return "", err
	}

	filename := c.generateFilename(mimeType)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build multipart form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to build multipart form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to build multipart form: %w", err)
	}

	uploadURL := fmt.Sprintf("%s/upload?key=%s", c.baseURL, url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	slog.Info("hosting: uploading image blob", "filename", filename, "size_bytes", len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("image upload failed: %w", err)
	}
	if err := c.checkUploadStatus(ctx, resp); err != nil {
		return "", err
	}

	return c.pollForFile(ctx, key, filename)
}

// UploadRemote asks the backend to fetch the source URL server-side, then
// polls for the generated filename. Avoids downloading the image client-side.
func (c *Client) UploadRemote(ctx context.Context, srcURL string) (string, error) {
	key, err := c.ensureKey(ctx)
	if err != nil {
		return "", err
	}

	filename := c.generateFilename(imaging.DefaultMIMEType)

	query := url.Values{}
	query.Set("key", key)
	query.Set("url", srcURL)
	query.Set("filename", filename)
	remoteURL := fmt.Sprintf("%s/remoteuploadurl?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create remote upload request: %w", err)
	}

	slog.Info("hosting: requesting remote-transfer upload", "filename", filename)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("remote image upload failed: %w", err)
	}
	if err := c.checkUploadStatus(ctx, resp); err != nil {
		return "", err
	}

	return c.pollForFile(ctx, key, filename)
}

// checkUploadStatus consumes the response. Authorization failures invalidate
// the cached session key; other failures surface the backend's error text.
func (c *Client) checkUploadStatus(ctx context.Context, resp *http.Response) error {
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.invalidateKey(ctx)
		return ErrSessionInvalid
	}

	body, _ := io.ReadAll(resp.Body)
	errorText := strings.TrimSpace(string(body))
	if errorText == "" {
		errorText = resp.Status
	}
	return fmt.Errorf("image upload failed: %s", errorText)
}

// ensureKey returns the cached session key, registering a new one if needed.
func (c *Client) ensureKey(ctx context.Context) (string, error) {
	key, err := c.keys.Get(ctx, userKeyStorageKey)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("failed to read cached session key: %w", err)
	}
	return c.register(ctx)
}

// register performs the registration request and scrapes the session token
// out of the response document.
func (c *Client) register(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/register", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create registration request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to register with hosting service: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to register with hosting service (status %d)", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read registration response: %w", err)
	}

	match := userKeyPattern.FindSubmatch(body)
	if match == nil {
		return "", ErrTokenNotFound
	}
	key := string(match[1])

	if err := c.keys.Set(ctx, userKeyStorageKey, key); err != nil {
		// A failed cache write costs a re-registration next time, nothing more.
		slog.Warn("hosting: failed to cache session key", "error", err)
	}
	slog.Info("hosting: registered new session key")
	return key, nil
}

func (c *Client) invalidateKey(ctx context.Context) {
	if err := c.keys.Delete(ctx, userKeyStorageKey); err != nil {
		slog.Warn("hosting: failed to clear invalid session key", "error", err)
	} else {
		slog.Info("hosting: cleared invalid session key")
	}
}

func (c *Client) generateFilename(mimeType string) string {
	// Millisecond timestamps can collide across near-simultaneous uploads; a
	// random suffix keeps the listing match unambiguous on its own.
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%s-%d-%s.%s", c.filePrefix, c.now().UnixMilli(), suffix, imaging.FileExtension(mimeType))
}

type fileEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type filesResponse struct {
	Files []fileEntry `json:"files"`
}

// pollForFile polls the file listing until the uploaded filename appears,
// then constructs the public URL. The backend appends recent uploads to the
// end of the listing, so the scan runs back to front.
func (c *Client) pollForFile(ctx context.Context, key, filename string) (string, error) {
	listURL := fmt.Sprintf("%s/files?key=%s", c.baseURL, url.QueryEscape(key))

	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		if err := c.wait(ctx); err != nil {
			return "", err
		}

		entry, ok, err := c.fetchListing(ctx, listURL, filename)
		if err != nil {
			slog.Warn("hosting: file listing attempt failed", "attempt", attempt, "error", err)
			continue
		}
		if ok {
			return fmt.Sprintf("%s/%s/%s", c.baseURL, entry.ID, entry.Name), nil
		}
	}
	return "", ErrUploadUnverified
}

func (c *Client) fetchListing(ctx context.Context, listURL, filename string) (fileEntry, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return fileEntry{}, false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fileEntry{}, false, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fileEntry{}, false, fmt.Errorf("file listing returned status %d", resp.StatusCode)
	}

	var listing filesResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return fileEntry{}, false, fmt.Errorf("failed to parse file listing: %w", err)
	}

	for i := len(listing.Files) - 1; i >= 0; i-- {
		if listing.Files[i].Name == filename && listing.Files[i].ID != "" {
			return listing.Files[i], true, nil
		}
	}
	return fileEntry{}, false, nil
}

func (c *Client) wait(ctx context.Context) error {
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
