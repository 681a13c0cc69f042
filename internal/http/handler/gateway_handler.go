package handler

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/x402wrap/x402wrap/internal/app/service"
	"go.uber.org/zap"
)

// Payment-control headers understood by the gateway.
const (
	HeaderPaymentSignature = "X-Payment-Signature"
	HeaderPaymentFrom      = "X-Payment-From"

	HeaderPaymentRequired  = "X-Payment-Required"
	HeaderPaymentAmount    = "X-Payment-Amount"
	HeaderPaymentCurrency  = "X-Payment-Currency"
	HeaderPaymentRecipient = "X-Payment-Recipient"
	HeaderPaymentVerified  = "X-Payment-Verified"
	HeaderForwardedBy      = "X-Forwarded-By"
)

const forwardedByValue = "x402wrap"

// GatewayDeps groups dependencies required by the gateway handler.
type GatewayDeps struct {
	Logger  *zap.Logger
	Gateway service.GatewayService
}

// GatewayHandler exposes wrapped links: every HTTP method on /:id runs the
// payment-gate pipeline.
type GatewayHandler struct {
	logger  *zap.Logger
	gateway service.GatewayService
}

// NewGatewayHandler creates a gateway handler with the provided dependencies.
func NewGatewayHandler(deps GatewayDeps) *GatewayHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayHandler{
		logger:  logger,
		gateway: deps.Gateway,
	}
}

// Register wires the catch-all gateway route. Must be registered after the
// API and stats routes so those paths keep precedence.
func (h *GatewayHandler) Register(router fiber.Router) {
	router.All("/:id", h.Handle)
}

// Handle runs one inbound call through the gateway pipeline.
func (h *GatewayHandler) Handle(c *fiber.Ctx) error {
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

	result := h.gateway.Handle(ctx, h.buildRequest(c, id))

	switch result.Kind {
	case service.ResultChallenge:
		return h.respondChallenge(c, result)
	case service.ResultRejected:
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":   "Payment verification failed",
			"details": result.Reason,
		})
	case service.ResultForwarded:
		c.Set(HeaderForwardedBy, forwardedByValue)
		c.Set(HeaderPaymentVerified, "true")
		c.Set(fiber.HeaderContentType, result.Upstream.ContentType)
		return c.Status(result.Upstream.StatusCode).Send(result.Upstream.Body)
	case service.ResultLinkNotFound:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Link not found",
		})
	case service.ResultUpstreamFailed:
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to forward request to original API",
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal server error",
		})
	}
}

func (h *GatewayHandler) buildRequest(c *fiber.Ctx, id string) service.GatewayRequest {
	query := url.Values{}
	c.Request().URI().QueryArgs().VisitAll(func(key, value []byte) {
		query.Add(string(key), string(value))
	})

	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})

	// fiber reuses its buffers after the handler returns; the pipeline may
	// outlive them, so copy the body.
	var body []byte
	if raw := c.Body(); len(raw) > 0 {
		body = append(body, raw...)
	}

	return service.GatewayRequest{
		LinkID: id,
		Method: c.Method(),
		Query:  query,
		Header: header,
		Body:   body,
		Proof: service.PaymentProof{
			Signature:    c.Get(HeaderPaymentSignature),
			ClaimedPayer: c.Get(HeaderPaymentFrom),
		},
	}
}

func (h *GatewayHandler) respondChallenge(c *fiber.Ctx, result service.GatewayResult) error {
	challenge := result.Challenge

	c.Set(HeaderPaymentRequired, "true")
	c.Set(HeaderPaymentAmount, formatAmount(challenge.Amount))
	c.Set(HeaderPaymentCurrency, challenge.Currency)
	c.Set(HeaderPaymentRecipient, challenge.Recipient)

	return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
		"error": "Payment Required",
		"payment": fiber.Map{
			"recipient": challenge.Recipient,
			"amount":    challenge.Amount,
			"currency":  challenge.Currency,
			"reference": challenge.Reference,
		},
		"instructions": fiber.Map{
			"header":      HeaderPaymentSignature,
			"description": "Include your transaction signature in the " + HeaderPaymentSignature + " header",
			"example":     HeaderPaymentSignature + ": 5J7Xk...",
		},
	})
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
