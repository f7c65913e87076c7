package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	jwt "github.com/golang-jwt/jwt/v5"
)

const issuer = "peerlink-relay"

// generateJWT signs a token whose subject is userID.
func generateJWT(userID string, secret []byte, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// validateToken returns the subject of a valid token.
func validateToken(tokenString string, secret []byte) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// IssueToken returns a token for an existing user.
func (h *Handler) IssueToken(c *gin.Context) {
	if h.Auth.JWTSecret == "" {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "token issuing is disabled", "code": "disabled"})
		return
	}
	userID := c.Param("user_id")
	if _, err := h.Presence.Get(c.Request.Context(), userID); err != nil {
		h.fail(c, err)
		return
	}
	token, err := generateJWT(userID, []byte(h.Auth.JWTSecret), h.Auth.TokenTTL)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user_id": userID})
}

// RequireToken checks that the caller holds a token for the :user_id path
// parameter. Without a configured secret every request passes.
func (h *Handler) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Auth.JWTSecret == "" {
			c.Next()
			return
		}
		tokenString := c.Query("token")
		if auth := c.GetHeader("Authorization"); tokenString == "" && strings.HasPrefix(auth, "Bearer ") {
			tokenString = auth[len("Bearer "):]
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization token missing", "code": "unauthorized"})
			return
		}
		subject, err := validateToken(tokenString, []byte(h.Auth.JWTSecret))
		if err != nil || subject != c.Param("user_id") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token or expired", "code": "unauthorized"})
			return
		}
		c.Next()
	}
}
