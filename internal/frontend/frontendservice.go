// Package frontend exposes the generation pipeline over a JSON HTTP API.
package frontend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Aegis-plus/AIGEN/internal/core"
	"github.com/Aegis-plus/AIGEN/internal/generation"
	"github.com/Aegis-plus/AIGEN/internal/history"
)

const (
	defaultImageWidth  = 512
	defaultImageHeight = 512

	placeholderRoute = "/placeholder.png"
)

// Service is the pipeline surface the HTTP handlers need.
type Service interface {
	Generate(ctx context.Context, prompt, modelID string, width, height int) (core.GenerateOutcome, error)
	History(ctx context.Context) []history.Record
	ClearHistory(ctx context.Context) error
	OfflineImage(id int64) (data []byte, mimeType string, ok bool)
	ResolveDisplayURL(rec history.Record) string
	LastPrompt(ctx context.Context) string
	SetLastPrompt(ctx context.Context, prompt string) error
	Models() []generation.Model
}

type FrontendService struct {
	coreService Service
}

// displayURL resolves a record's display URL, substituting the served
// placeholder image for the inert terminal fallback.
func (service *FrontendService) displayURL(rec history.Record) string {
	resolved := service.coreService.ResolveDisplayURL(rec)
	if resolved == history.PlaceholderURL {
		return placeholderRoute
	}
	return resolved
}

func NewFrontendService(coreService Service) *FrontendService {
	return &FrontendService{
		coreService: coreService,
	}
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	e.GET("/probe", service.probeHandler)

	e.POST("/api/generate", service.generateHandler)
	e.GET("/api/history", service.historyHandler)
	e.DELETE("/api/history", service.clearHistoryHandler)
	e.GET("/api/image/:id", service.offlineImageHandler)
	e.GET("/api/models", service.modelsHandler)
	e.GET("/api/prompt", service.getPromptHandler)
	e.PUT("/api/prompt", service.putPromptHandler)

	e.GET("/placeholder.png", service.placeholderHandler)
}

func (service *FrontendService) probeHandler(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Service is running")
}

type generateRequest struct {
	Prompt  string `json:"prompt" validate:"required"`
	ModelID string `json:"modelId" validate:"required"`
	Width   int    `json:"width" validate:"omitempty,gte=16,lte=4096"`
	Height  int    `json:"height" validate:"omitempty,gte=16,lte=4096"`
}

type historyItem struct {
	history.Record
	DisplayURL string `json:"displayUrl"`
}

type generateResponse struct {
	historyItem
	Durable bool   `json:"durable"`
	Pruned  bool   `json:"pruned"`
	Warning string `json:"warning,omitempty"`
}

func (service *FrontendService) generateHandler(ctx echo.Context) error {
	var req generateRequest
	if err := ctx.Bind(&req); err != nil {
		slog.Warn("generateHandler: failed to bind request body",
			"status", http.StatusBadRequest, "error", err)
		return ctx.String(http.StatusBadRequest, "Invalid request body")
	}
	if err := ctx.Validate(&req); err != nil {
		return err
	}
	if req.Width == 0 {
		req.Width = defaultImageWidth
	}
	if req.Height == 0 {
		req.Height = defaultImageHeight
	}

	outcome, err := service.coreService.Generate(ctx.Request().Context(), req.Prompt, req.ModelID, req.Width, req.Height)
	if err != nil {
		if errors.Is(err, core.ErrGenerationInFlight) {
			slog.Warn("generateHandler: rejected overlapping request", "status", http.StatusConflict)
			return ctx.String(http.StatusConflict, "A generation is already in progress")
		}
		slog.Error("generateHandler: generation failed",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to generate image")
	}

	service.setNoCache(ctx)
	return ctx.JSON(http.StatusOK, generateResponse{
		historyItem: historyItem{
			Record:     outcome.Record,
			DisplayURL: service.displayURL(outcome.Record),
		},
		Durable: outcome.Durable,
		Pruned:  outcome.Pruned,
		Warning: outcome.Warning,
	})
}

func (service *FrontendService) historyHandler(ctx echo.Context) error {
	records := service.coreService.History(ctx.Request().Context())

	items := make([]historyItem, 0, len(records))
	for _, rec := range records {
		items = append(items, historyItem{
			Record:     rec,
			DisplayURL: service.displayURL(rec),
		})
	}

	service.setNoCache(ctx)
	return ctx.JSON(http.StatusOK, items)
}

func (service *FrontendService) clearHistoryHandler(ctx echo.Context) error {
	if err := service.coreService.ClearHistory(ctx.Request().Context()); err != nil {
		slog.Error("clearHistoryHandler: failed to clear history",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to clear history")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (service *FrontendService) offlineImageHandler(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		slog.Warn("offlineImageHandler: invalid image id",
			"status", http.StatusBadRequest, "id", ctx.Param("id"))
		return ctx.String(http.StatusBadRequest, "Invalid image ID")
	}

	data, mimeType, ok := service.coreService.OfflineImage(id)
	if !ok {
		return ctx.String(http.StatusNotFound, "Image not available")
	}

	// Offline copies are immutable per record id.
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, mimeType, data)
}

func (service *FrontendService) modelsHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, service.coreService.Models())
}

type promptPayload struct {
	Prompt string `json:"prompt" validate:"required"`
}

func (service *FrontendService) getPromptHandler(ctx echo.Context) error {
	service.setNoCache(ctx)
	return ctx.JSON(http.StatusOK, promptPayload{
		Prompt: service.coreService.LastPrompt(ctx.Request().Context()),
	})
}

func (service *FrontendService) putPromptHandler(ctx echo.Context) error {
	var payload promptPayload
	if err := ctx.Bind(&payload); err != nil {
		slog.Warn("putPromptHandler: failed to bind request body",
			"status", http.StatusBadRequest, "error", err)
		return ctx.String(http.StatusBadRequest, "Invalid request body")
	}
	if err := ctx.Validate(&payload); err != nil {
		return err
	}

	if err := service.coreService.SetLastPrompt(ctx.Request().Context(), payload.Prompt); err != nil {
		slog.Error("putPromptHandler: failed to store prompt",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to store prompt")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (service *FrontendService) placeholderHandler(ctx echo.Context) error {
	data, err := placeholderPNG()
	if err != nil {
		slog.Error("placeholderHandler: failed to render placeholder",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to render placeholder")
	}
	// Cache for 7 days
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, "image/png", data)
}

func (service *FrontendService) setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}
