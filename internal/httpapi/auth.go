package httpapi

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"
)

// requireAuth checks the Authorization header against the configured
// bearer token. The comparison is constant-time.
func (s *Server) requireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s.opts.APIToken == "" {
				return next(c)
			}

			token, found := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !found {
				return unauthorizedResponse(c)
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.APIToken)) != 1 {
				return unauthorizedResponse(c)
			}
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	header = strings.TrimSpace(header)
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
