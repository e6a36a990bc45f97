package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"insight_server/core/domain"
	"insight_server/core/port/out"
	"insight_server/infra/middleware"
)

// =============================================================================
// Settings Handler
// =============================================================================

// SettingsHandler serves per-user analysis settings and usage reports.
type SettingsHandler struct {
	settings out.SettingsRepository
	usage    out.UsageStore
	log      zerolog.Logger
}

func NewSettingsHandler(settings out.SettingsRepository, usage out.UsageStore, log zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{
		settings: settings,
		usage:    usage,
		log:      log.With().Str("handler", "settings").Logger(),
	}
}

// Register registers settings and usage routes.
func (h *SettingsHandler) Register(app fiber.Router) {
	app.Get("/settings", h.GetSettings)
	app.Put("/settings", h.UpdateSettings)
	app.Get("/usage", h.GetUsage)
}

// GetSettings returns the caller's settings, defaults if none are stored.
func (h *SettingsHandler) GetSettings(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	settings, err := h.settings.GetSettings(c.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to load settings")
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load settings")
	}
	return c.JSON(settings)
}

// updateSettingsRequest is the mutable subset of UserSettings.
type updateSettingsRequest struct {
	AIEnabled        *bool               `json:"ai_enabled"`
	CacheDisabled    *bool               `json:"cache_disabled"`
	TokenBudget      *int                `json:"token_budget"`
	SummaryTier      *string             `json:"summary_tier"`
	VIPSenders       []string            `json:"vip_senders"`
	CustomCategories map[string][]string `json:"custom_categories"`
}

// UpdateSettings merges the request into the stored settings and upserts them.
func (h *SettingsHandler) UpdateSettings(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	var req updateSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	settings, err := h.settings.GetSettings(c.Context(), userID)
	if err != nil {
		settings = domain.DefaultSettings(userID)
	}

	if req.AIEnabled != nil {
		settings.AIEnabled = *req.AIEnabled
	}
	if req.CacheDisabled != nil {
		settings.CacheDisabled = *req.CacheDisabled
	}
	if req.TokenBudget != nil && *req.TokenBudget > 0 {
		settings.TokenBudget = *req.TokenBudget
	}
	if req.SummaryTier != nil {
		switch tier := domain.SummaryTier(*req.SummaryTier); tier {
		case domain.SummaryShort, domain.SummaryStandard, domain.SummaryDetailed:
			settings.SummaryTier = tier
		default:
			return fiber.NewError(fiber.StatusBadRequest, "invalid summary_tier")
		}
	}
	if req.VIPSenders != nil {
		settings.VIPSenders = req.VIPSenders
	}
	if req.CustomCategories != nil {
		settings.CustomCategories = req.CustomCategories
	}

	if err := h.settings.UpsertSettings(c.Context(), settings); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to save settings")
		return fiber.NewError(fiber.StatusInternalServerError, "failed to save settings")
	}
	return c.JSON(settings)
}

// GetUsage returns the caller's usage reports for one UTC day (default today).
func (h *SettingsHandler) GetUsage(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	if h.usage == nil {
		return c.JSON(fiber.Map{"reports": []interface{}{}})
	}

	day := time.Now().UTC()
	if raw := c.Query("day"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "day must be YYYY-MM-DD")
		}
		day = parsed
	}

	reports, err := h.usage.ReportsByDay(c.Context(), userID, day)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to load usage reports")
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load usage reports")
	}
	if reports == nil {
		reports = []*out.UsageReport{}
	}
	return c.JSON(fiber.Map{"reports": reports})
}
