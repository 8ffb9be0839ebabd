package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/surajmurari02/ocr-card/config"
	"github.com/surajmurari02/ocr-card/pkg/logger"
)

// SessionClaims binds a browser to its page session. It grants nothing;
// it only lets the server find the same upload controller again.
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// IssueSessionToken signs a session cookie value for sessionID.
func IssueSessionToken(sessionID, secret string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// ParseSessionToken verifies a cookie value and returns its claims.
func ParseSessionToken(tokenString, secret string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.SessionID == "" {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}

// Session attaches a page session ID to every request. A missing, tampered or
// expired cookie silently starts a new session; tokens past half their
// lifetime are re-issued so active tabs keep their controller.
func Session(cfg *config.Config) gin.HandlerFunc {
	name := cfg.Session.CookieName
	secret := cfg.App.SecretKey
	ttl := cfg.Session.TTL
	secure := cfg.IsProduction()

	return func(c *gin.Context) {
		var sessionID string
		reissue := true

		if raw, err := c.Cookie(name); err == nil && raw != "" {
			claims, err := ParseSessionToken(raw, secret)
			if err == nil {
				sessionID = claims.SessionID
				reissue = claims.ExpiresAt != nil && time.Until(claims.ExpiresAt.Time) < ttl/2
			} else {
				logger.Debug(c.Request.Context(), "session cookie rejected", "error", err)
			}
		}
		if sessionID == "" {
			sessionID = uuid.New().String()
		}

		if reissue {
			token, _, err := IssueSessionToken(sessionID, secret, ttl)
			if err != nil {
				logger.Error(c.Request.Context(), "failed to issue session token", "error", err)
			} else {
				c.SetSameSite(http.SameSiteLaxMode)
				c.SetCookie(name, token, int(ttl.Seconds()), "/", "", secure, true)
			}
		}

		c.Set("session_id", sessionID)
		ctx := context.WithValue(c.Request.Context(), logger.SessionIDKey, sessionID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetSessionID gets the session ID from gin context
func GetSessionID(c *gin.Context) string {
	if sessionID, exists := c.Get("session_id"); exists {
		return sessionID.(string)
	}
	return ""
}
