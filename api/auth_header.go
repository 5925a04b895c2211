package api

import (
	"context"
	"errors"
	"net/http"
	"time"
	"unsafe"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

var bearerPrefix = [...]byte{'B', 'e', 'a', 'r', 'e', 'r', ' '}

type ownerKeyType struct{}

var ownerKey = ownerKeyType{}

// OwnerFromContext returns the authenticated owner stored by RequireOwner.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey).(string)
	return owner, ok && owner != ""
}

// RequireOwner authenticates the request and stores the owner in the request
// context. Unauthenticated requests are answered with 401 before the handler
// runs. With allowQueryToken, a "token" query parameter stands in for a
// missing Authorization header, which EventSource clients cannot set.
func RequireOwner(auth Authenticator, allowQueryToken bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" && allowQueryToken {
				if token := c.QueryParam("token"); token != "" {
					header = "Bearer " + token
				}
			}

			start := time.Now()
			owner, err := auth.OwnerFromAuthHeader(header)
			m := metricsFrom(c)
			m.ObserveAuth(time.Since(start))
			if err != nil {
				m.SetErrorStage("auth")
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: err.Error()})
			}

			ctx := context.WithValue(c.Request().Context(), ownerKey, owner)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func bearerTokenFromString(raw string) ([]byte, error) {
	start := 0
	end := len(raw)
	for start < end && raw[start] == ' ' {
		start++
	}
	for end > start && raw[end-1] == ' ' {
		end--
	}
	if start >= end {
		return nil, errMissingAuthorization
	}
	tokenBytes := readOnlyBytes(raw[start:end])
	if len(tokenBytes) <= len(bearerPrefix) || !hasBearerPrefix(tokenBytes) {
		return nil, errBadAuthorization
	}
	tokenBytes = tokenBytes[len(bearerPrefix):]
	if countByte(tokenBytes, '.') != 2 {
		return nil, errBadAuthorization
	}
	return tokenBytes, nil
}

func hasBearerPrefix(value []byte) bool {
	if len(value) < len(bearerPrefix) {
		return false
	}
	for i := range bearerPrefix {
		if value[i] != bearerPrefix[i] {
			return false
		}
	}
	return true
}

func countByte(buf []byte, target byte) int {
	count := 0
	for _, b := range buf {
		if b == target {
			count++
		}
	}
	return count
}

func readOnlyBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func readOnlyString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
