package frontend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/Aegis-plus/AIGEN/internal/common"
	"github.com/Aegis-plus/AIGEN/internal/core"
	"github.com/Aegis-plus/AIGEN/internal/generation"
	"github.com/Aegis-plus/AIGEN/internal/history"
)

type fakeService struct {
	outcome     core.GenerateOutcome
	generateErr error
	records     []history.Record
	cleared     bool
	offlineData []byte
	lastPrompt  string
	models      []generation.Model

	gotPrompt  string
	gotModelID string
	gotWidth   int
	gotHeight  int
}

func (f *fakeService) Generate(_ context.Context, prompt, modelID string, width, height int) (core.GenerateOutcome, error) {
	f.gotPrompt = prompt
	f.gotModelID = modelID
	f.gotWidth = width
	f.gotHeight = height
	return f.outcome, f.generateErr
}

func (f *fakeService) History(_ context.Context) []history.Record { return f.records }

func (f *fakeService) ClearHistory(_ context.Context) error {
	f.cleared = true
	f.records = nil
	return nil
}

func (f *fakeService) OfflineImage(id int64) ([]byte, string, bool) {
	if f.offlineData == nil {
		return nil, "", false
	}
	return f.offlineData, "image/png", true
}

func (f *fakeService) ResolveDisplayURL(rec history.Record) string {
	return history.ResolveDisplayURL(rec, "")
}

func (f *fakeService) LastPrompt(_ context.Context) string { return f.lastPrompt }

func (f *fakeService) SetLastPrompt(_ context.Context, prompt string) error {
	f.lastPrompt = prompt
	return nil
}

func (f *fakeService) Models() []generation.Model { return f.models }

func newTestServer(t *testing.T, fake *fakeService) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.Validator = common.NewEchoValidator()
	NewFrontendService(fake).SetRoutes(e)
	return e
}

func performRequest(e *echo.Echo, method, target string, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGenerateHandler_Success(t *testing.T) {
	fake := &fakeService{
		outcome: core.GenerateOutcome{
			Record: history.Record{
				CreatedAt: 1700000000000,
				Prompt:    "a red cube",
				ModelID:   "demo-model",
				HostedURL: "https://host.test/abc/aigen-1.png",
			},
			Durable: true,
		},
	}
	e := newTestServer(t, fake)

	rec := performRequest(e, http.MethodPost, "/api/generate",
		`{"prompt":"a red cube","modelId":"demo-model"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if fake.gotWidth != defaultImageWidth || fake.gotHeight != defaultImageHeight {
		t.Errorf("expected default dimensions, got %dx%d", fake.gotWidth, fake.gotHeight)
	}

	var resp struct {
		CreatedAt  int64  `json:"createdAt"`
		DisplayURL string `json:"displayUrl"`
		Durable    bool   `json:"durable"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.CreatedAt != 1700000000000 || !resp.Durable {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.DisplayURL != "https://host.test/abc/aigen-1.png" {
		t.Errorf("unexpected display URL: %q", resp.DisplayURL)
	}
}

func TestGenerateHandler_DegradedResponseCarriesWarning(t *testing.T) {
	fake := &fakeService{
		outcome: core.GenerateOutcome{
			Record: history.Record{
				CreatedAt: 1,
				Prompt:    "a red cube",
				ModelID:   "demo-model",
				Source:    &history.Source{Type: history.SourceURL, Data: "https://cdn.test/img.png"},
			},
			Warning: "image could not be uploaded to the hosting service; the link may expire",
		},
	}
	e := newTestServer(t, fake)

	rec := performRequest(e, http.MethodPost, "/api/generate",
		`{"prompt":"a red cube","modelId":"demo-model","width":1024,"height":768}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if fake.gotWidth != 1024 || fake.gotHeight != 768 {
		t.Errorf("expected explicit dimensions to pass through, got %dx%d", fake.gotWidth, fake.gotHeight)
	}

	var resp struct {
		Durable bool   `json:"durable"`
		Warning string `json:"warning"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Durable || resp.Warning == "" {
		t.Errorf("expected degraded response with warning, got %+v", resp)
	}
}

func TestGenerateHandler_RejectsMissingPrompt(t *testing.T) {
	e := newTestServer(t, &fakeService{})

	rec := performRequest(e, http.MethodPost, "/api/generate", `{"modelId":"demo-model"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGenerateHandler_ConflictWhenInFlight(t *testing.T) {
	e := newTestServer(t, &fakeService{generateErr: core.ErrGenerationInFlight})

	rec := performRequest(e, http.MethodPost, "/api/generate",
		`{"prompt":"a red cube","modelId":"demo-model"}`)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHistoryHandler(t *testing.T) {
	fake := &fakeService{records: []history.Record{
		{CreatedAt: 2, Prompt: "second", HostedURL: "https://host.test/b.png"},
		{CreatedAt: 1, Prompt: "first"},
	}}
	e := newTestServer(t, fake)

	rec := performRequest(e, http.MethodGet, "/api/history", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var items []struct {
		CreatedAt  int64  `json:"createdAt"`
		DisplayURL string `json:"displayUrl"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(items) != 2 || items[0].CreatedAt != 2 {
		t.Fatalf("unexpected listing: %+v", items)
	}
	if items[0].DisplayURL != "https://host.test/b.png" {
		t.Errorf("unexpected display URL: %q", items[0].DisplayURL)
	}
	if items[1].DisplayURL != placeholderRoute {
		t.Errorf("expected placeholder route for bare record, got %q", items[1].DisplayURL)
	}
}

func TestClearHistoryHandler(t *testing.T) {
	fake := &fakeService{records: []history.Record{{CreatedAt: 1}}}
	e := newTestServer(t, fake)

	rec := performRequest(e, http.MethodDelete, "/api/history", "")

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !fake.cleared {
		t.Error("expected ClearHistory to be called")
	}
}

func TestOfflineImageHandler(t *testing.T) {
	fake := &fakeService{offlineData: []byte("png bytes")}
	e := newTestServer(t, fake)

	rec := performRequest(e, http.MethodGet, "/api/image/1700000000000", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), []byte("png bytes")) {
		t.Error("unexpected blob body")
	}

	missing := newTestServer(t, &fakeService{})
	rec = performRequest(missing, http.MethodGet, "/api/image/1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing blob, got %d", rec.Code)
	}

	rec = performRequest(e, http.MethodGet, "/api/image/not-a-number", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestPromptHandlers(t *testing.T) {
	fake := &fakeService{}
	e := newTestServer(t, fake)

	rec := performRequest(e, http.MethodPut, "/api/prompt", `{"prompt":"sunset over water"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if fake.lastPrompt != "sunset over water" {
		t.Errorf("prompt not stored: %q", fake.lastPrompt)
	}

	rec = performRequest(e, http.MethodGet, "/api/prompt", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload promptPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload.Prompt != "sunset over water" {
		t.Errorf("unexpected prompt: %q", payload.Prompt)
	}
}

func TestModelsHandler(t *testing.T) {
	fake := &fakeService{models: []generation.Model{{ID: "demo-model", Name: "Demo"}}}
	e := newTestServer(t, fake)

	rec := performRequest(e, http.MethodGet, "/api/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var models []generation.Model
	if err := json.Unmarshal(rec.Body.Bytes(), &models); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(models) != 1 || models[0].ID != "demo-model" {
		t.Errorf("unexpected models: %+v", models)
	}
}

func TestPlaceholderHandler_ReturnsPNG(t *testing.T) {
	e := newTestServer(t, &fakeService{})

	rec := performRequest(e, http.MethodGet, "/placeholder.png", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	signature := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	if !bytes.HasPrefix(rec.Body.Bytes(), signature) {
		t.Error("placeholder response is not a PNG")
	}
}
