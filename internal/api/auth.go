package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// operatorClaims is the single-operator JWT claim set. There is no user
// registry: one token authorizes the one operator who configured the
// bot's credentials.
type operatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueOperatorToken mints the bearer token an operator presents to every
// mutating command (start/stop/settings). There is no login endpoint; the
// token is generated out of band (e.g. at deploy time) from the same
// secret the server verifies against.
func IssueOperatorToken(secret string, expiresAt time.Time) (string, error) {
	claims := operatorClaims{
		Role: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseOperatorToken(tokenStr, secret string) error {
	token, err := jwt.ParseWithClaims(tokenStr, &operatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	claims, ok := token.Claims.(*operatorClaims)
	if !ok || !token.Valid || claims.Role != "operator" {
		return errors.New("invalid token claims")
	}
	return nil
}

// AuthMiddleware enforces the operator bearer token on protected REST
// routes.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "MISSING_TOKEN",
				"error": "missing Authorization header",
			})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_AUTH_HEADER",
				"error": "invalid Authorization header",
			})
			return
		}

		if err := parseOperatorToken(parts[1], secret); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":  "INVALID_TOKEN",
				"error": "invalid or expired token",
			})
			return
		}

		c.Next()
	}
}

// authorizeCommand is the websocket-side equivalent of AuthMiddleware: it
// gates inbound command/settings frames on the same operator token, passed
// once as a query parameter at connect time (WebSocket upgrades carry no
// custom headers from a browser client).
func authorizeCommand(token, secret string) bool {
	if token == "" {
		return false
	}
	return parseOperatorToken(token, secret) == nil
}
