package middleware

import (
	"github.com/gofiber/fiber/v2"
)

// CORS returns a CORS middleware configuration. The payment-control headers
// must be visible to browser callers so machine clients can read a 402
// challenge cross-origin.
func CORS() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("Access-Control-Allow-Origin", "*")
		c.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Payment-Signature, X-Payment-From")
		c.Set("Access-Control-Expose-Headers", "Content-Length, Content-Type, X-Payment-Required, X-Payment-Amount, X-Payment-Currency, X-Payment-Recipient, X-Payment-Verified, X-Forwarded-By")
		c.Set("Access-Control-Max-Age", "86400")

		if c.Method() == "OPTIONS" {
			return c.SendStatus(fiber.StatusNoContent)
		}

		return c.Next()
	}
}
