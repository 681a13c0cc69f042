package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/x402wrap/x402wrap/internal/app/repository"
	"github.com/x402wrap/x402wrap/internal/app/service"
	"go.uber.org/zap"
)

// APIDeps groups dependencies required by API handlers.
type APIDeps struct {
	Logger      *zap.Logger
	LinkService service.LinkService
}

// APIHandler implements the link management API.
type APIHandler struct {
	logger      *zap.Logger
	linkService service.LinkService
}

// NewAPIHandler creates an API handler with the provided dependencies.
func NewAPIHandler(deps APIDeps) *APIHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		logger:      logger,
		linkService: deps.LinkService,
	}
}

// Register wires API routes onto the provided router.
func (h *APIHandler) Register(router fiber.Router) {
	api := router.Group("/api")
	{
		api.Post("/links", h.CreateLink)
		api.Get("/links/:id", h.GetLink)
		api.Get("/stats/:id", h.Stats)
		api.Get("/marketplace", h.Marketplace)
	}
}

// CreateLinkRequest represents the request body for wrapping an API.
type CreateLinkRequest struct {
	APIURL string  `json:"apiUrl"`
	Price  float64 `json:"price"`
	Wallet string  `json:"wallet"`
}

// CreateLinkResponse represents the response for creating a link.
type CreateLinkResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Price     float64   `json:"price"`
	Wallet    string    `json:"wallet"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateLink handles POST /api/links
func (h *APIHandler) CreateLink(c *fiber.Ctx) error {
	var req CreateLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.APIURL == "" || req.Price == 0 || req.Wallet == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "apiUrl, price and wallet are required",
		})
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	link, err := h.linkService.CreateLink(ctx, service.CreateLinkInput{
		OriginURL:      req.APIURL,
		Price:          req.Price,
		ReceiverWallet: req.Wallet,
	})
	if err != nil {
		var validationErr *service.ValidationError
		if errors.As(err, &validationErr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": validationErr.Error(),
			})
		}
		h.logger.Error("failed to create link", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create link",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(CreateLinkResponse{
		ID:        link.ID,
		URL:       link.OriginURL,
		Price:     link.Price,
		Wallet:    link.ReceiverWallet,
		CreatedAt: link.CreatedAt,
	})
}

// GetLink handles GET /api/links/:id
func (h *APIHandler) GetLink(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id is required",
		})
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	link, err := h.linkService.GetLink(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "link not found",
			})
		}
		h.logger.Error("failed to get link", zap.Error(err), zap.String("id", id))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}

	return c.JSON(CreateLinkResponse{
		ID:        link.ID,
		URL:       link.OriginURL,
		Price:     link.Price,
		Wallet:    link.ReceiverWallet,
		CreatedAt: link.CreatedAt,
	})
}

// Stats handles GET /api/stats/:id
func (h *APIHandler) Stats(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "id is required",
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
		h.logger.Error("failed to fetch stats", zap.Error(err), zap.String("id", id))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch statistics",
		})
	}

	return c.JSON(stats)
}

// Marketplace handles GET /api/marketplace
func (h *APIHandler) Marketplace(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	stats, err := h.linkService.Marketplace(ctx)
	if err != nil {
		h.logger.Error("failed to fetch marketplace stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
		})
	}

	return c.JSON(stats)
}
