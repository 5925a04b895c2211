// Package integration holds end-to-end checks that run against a deployed
// dashboard API started in test or local auth mode.
package integration

import (
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TestToken returns an HS256 token for owner signed with TEST_JWT_SECRET.
func TestToken(owner string) (string, error) {
	secret := os.Getenv("TEST_JWT_SECRET")
	if secret == "" {
		secret = "testsecret"
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": owner,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	return token.SignedString([]byte(secret))
}
