package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
	// AllowEmbedding relaxes frame-ancestors so the chat widget can be
	// embedded in customer pages. Dashboard routes keep it at 'none'.
	AllowEmbedding bool
}

func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	frameAncestors := "'none'"
	if cfg.AllowEmbedding {
		frameAncestors = "*"
	}

	csp := "default-src 'self'; " +
		"script-src 'self' 'unsafe-inline'; " +
		"style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data: https:; " +
		"font-src 'self' data:; " +
		"connect-src 'self' " + strings.Join(cfg.AllowedOrigins, " ") + "; " +
		"frame-ancestors " + frameAncestors + "; " +
		"base-uri 'self'; " +
		"form-action 'self'"

	return func(c *fiber.Ctx) error {
		if !cfg.AllowEmbedding {
			c.Set("X-Frame-Options", "DENY")
		}
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Set("Content-Security-Policy", csp)

		return c.Next()
	}
}
