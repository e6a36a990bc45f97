// Package http provides inbound HTTP handlers.
package http

import (
	"bufio"
	"context"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"insight_server/core/domain"
	"insight_server/core/port/in"
	"insight_server/infra/middleware"
	"insight_server/pkg/apperr"
)

// =============================================================================
// Analyze Handler (SSE)
// =============================================================================

// AnalyzeHandler streams pipeline runs over Server-Sent Events.
type AnalyzeHandler struct {
	service in.AnalysisService
	log     zerolog.Logger
}

func NewAnalyzeHandler(service in.AnalysisService, log zerolog.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{
		service: service,
		log:     log.With().Str("handler", "analyze").Logger(),
	}
}

// Register registers analyze routes.
func (h *AnalyzeHandler) Register(app fiber.Router) {
	app.Get("/analyze/stream", h.Stream)
}

// commandFromQuery builds the run command from query parameters; invalid
// values fall back to defaults via Normalize.
func commandFromQuery(c *fiber.Ctx) domain.AnalysisCommand {
	cmd := domain.AnalysisCommand{
		DaysBack:          c.QueryInt("days_back", domain.DefaultDaysBack),
		CacheDurationDays: c.QueryInt("cache_duration_days", domain.DefaultCacheDuration),
		BatchSize:         c.QueryInt("batch_size", 0),
		PriorityThreshold: c.QueryInt("priority_threshold", domain.DefaultPriorityThreshold),
	}
	if raw := c.Query("categories"); raw != "" {
		for _, cat := range strings.Split(raw, ",") {
			if cat = strings.TrimSpace(cat); cat != "" {
				cmd.Categories = append(cmd.Categories, cat)
			}
		}
	}
	return cmd
}

// Stream runs the pipeline and writes each event as one SSE data frame. The
// connected frame is emitted by this transport layer before the pipeline's
// own sequence starts.
func (h *AnalyzeHandler) Stream(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	cmd := commandFromQuery(c)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // Nginx buffering 비활성화

	log := h.log.With().Str("user_id", userID).Logger()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := writeFrame(w, domain.StreamEvent{
			Type: domain.EventConnected,
			Data: fiber.Map{"status": "connected"},
		}); err != nil {
			return
		}

		events, err := h.service.Run(ctx, userID, cmd)
		if err != nil {
			appErr := apperr.AsAppError(err)
			log.Error().Err(err).Msg("failed to start pipeline run")
			_ = writeFrame(w, domain.NewErrorEvent(appErr.Message))
			return
		}

		log.Info().Msg("analysis stream started")
		for event := range events {
			if err := writeFrame(w, event); err != nil {
				log.Debug().Err(err).Msg("client disconnected during stream")
				return
			}
		}
		log.Info().Msg("analysis stream finished")
	})
	return nil
}

// writeFrame serializes one {type, data} frame in SSE format and flushes it.
func writeFrame(w *bufio.Writer, event domain.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := w.WriteString("data: "); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.WriteString("\n\n"); err != nil {
		return err
	}
	return w.Flush()
}
