package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/x402wrap/x402wrap/internal/app/repository"
	"github.com/x402wrap/x402wrap/internal/app/service"
	"github.com/x402wrap/x402wrap/internal/http/view"
	"go.uber.org/zap"
)

// StatsDeps groups dependencies required by the stats page handler.
type StatsDeps struct {
	Logger      *zap.Logger
	LinkService service.LinkService
}

// StatsHandler renders the operator-facing HTML stats view and the health
// endpoint.
type StatsHandler struct {
	logger      *zap.Logger
	linkService service.LinkService
}

// NewStatsHandler creates a stats handler with the provided dependencies.
func NewStatsHandler(deps StatsDeps) *StatsHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsHandler{
		logger:      logger,
		linkService: deps.LinkService,
	}
}

// Register wires stats and health routes onto the provided router.
func (h *StatsHandler) Register(router fiber.Router) {
	router.Get("/", h.Health)
	router.Get("/healthz", h.Health)
	router.Get("/stats/:id", h.Page)
}

// Health is a simple root endpoint so we know the service is running.
func (h *StatsHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "x402wrap",
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Page handles GET /stats/:id and renders the HTML stats view.
func (h *StatsHandler) Page(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing link id",
		})
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	stats, err := h.linkService.Stats(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "link not found",
			})
		}
		h.logger.Error("failed to load stats page", zap.Error(err), zap.String("id", id))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}

	rows := make([]view.StatsRow, 0, len(stats.RecentRequests))
	for _, rec := range stats.RecentRequests {
		row := view.StatsRow{
			Timestamp: rec.Timestamp,
			Amount:    rec.Amount,
			Success:   rec.Success,
		}
		if rec.PayerWallet != nil {
			row.Payer = *rec.PayerWallet
		}
		rows = append(rows, row)
	}

	html, err := view.RenderStatsPage(view.StatsPageData{
		ID:            stats.Link.ID,
		OriginURL:     stats.Link.OriginURL,
		Price:         stats.Link.Price,
		Wallet:        stats.Link.ReceiverWallet,
		TotalRequests: stats.Link.TotalRequests,
		TotalRevenue:  stats.Link.TotalRevenue,
		Count24h:      stats.Last24h.Count,
		Revenue24h:    stats.Last24h.Revenue,
		Recent:        rows,
	})
	if err != nil {
		h.logger.Error("failed to render stats page", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to render page",
		})
	}

	return c.
		Type("html", "utf-8").
		SendString(html)
}
