package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	generationsPath = "/images/generations"

	// Providers that take a "WxH" size string instead of width/height fields.
	providerDeepInfra = "deep-infra"
	// Providers that only deliver inline payloads when asked explicitly.
	providerAirforce = "api.airforce"
)

// Client calls an OpenAI-images-compatible generation endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a generation client for the given endpoint. An empty
// apiKey sends no authorization header (public aggregator endpoints).
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type generateRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type generateResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Generate requests one image and classifies the provider's answer as either
// a remote URL or an inline base64 payload. Data URLs smuggled through the
// url field are reclassified as inline payloads.
func (c *Client) Generate(ctx context.Context, prompt string, model Model, width, height int) (Result, error) {
	if model.ID == "" {
		return Result{}, fmt.Errorf("model must be selected")
	}

	reqBody := generateRequest{
		Model:  model.ID,
		Prompt: prompt,
	}
	switch model.Provider {
	case providerDeepInfra:
		reqBody.Size = fmt.Sprintf("%dx%d", width, height)
	case providerAirforce:
		reqBody.Width = width
		reqBody.Height = height
		reqBody.ResponseFormat = "b64_json"
	default:
		reqBody.Width = width
		reqBody.Height = height
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("error marshaling generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generationsPath, bytes.NewReader(jsonData))
	if err != nil {
		return Result{}, fmt.Errorf("error creating generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	slog.Info("generation: calling image API", "model", model.ID, "provider", model.Provider, "width", width, "height", height)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("generation request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("generation API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return Result{}, fmt.Errorf("error decoding generation response: %w", err)
	}

	return classifyResponse(genResp)
}

func classifyResponse(genResp generateResponse) (Result, error) {
	if len(genResp.Data) == 0 {
		return Result{}, fmt.Errorf("generation response did not contain an image")
	}

	first := genResp.Data[0]
	if first.URL != "" {
		if strings.HasPrefix(first.URL, "data:image") {
			return classifyDataURL(first.URL)
		}
		return RemoteURL(first.URL), nil
	}
	if first.B64JSON != "" {
		return InlineData(first.B64JSON, ""), nil
	}
	return Result{}, fmt.Errorf("generation response did not contain an image")
}

// classifyDataURL splits a "data:image/...;base64,<payload>" URL into an
// inline-data result carrying the declared MIME type.
func classifyDataURL(dataURL string) (Result, error) {
	head, payload, found := strings.Cut(dataURL, ",")
	if !found || payload == "" {
		return Result{}, fmt.Errorf("generation response contained an empty data URL")
	}

	mimeType := strings.TrimPrefix(head, "data:")
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	return InlineData(payload, mimeType), nil
}
