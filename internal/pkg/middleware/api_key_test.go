package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(keys []string) *fiber.App {
	app := fiber.New()
	app.Use(APIKeyAuthMiddleware(keys))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func TestAPIKeyAuthMiddleware(t *testing.T) {
	app := newApp([]string{"key-one", " key-two "})

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"missing", "", "", fiber.StatusUnauthorized},
		{"wrong key", "X-API-Key", "nope", fiber.StatusUnauthorized},
		{"header key", "X-API-Key", "key-one", fiber.StatusOK},
		{"bearer", "Authorization", "Bearer key-two", fiber.StatusOK},
		{"other scheme", "Authorization", "Basic key-two", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestAPIKeyAuthMiddleware_NoKeysConfigured(t *testing.T) {
	app := newApp([]string{"", "  "})
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
