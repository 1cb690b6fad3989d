package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aformulationoftruth/questionnaire/internal/domain"
	"github.com/aformulationoftruth/questionnaire/internal/usecase"
	"github.com/gin-gonic/gin"
)

const (
	sessionKey = "session"

	errUnauthorized    = "unauthorized"
	errSessionMismatch = "session_mismatch"
	errSessionNotFound = "session_not_found"
)

type authenticator interface {
	Authenticate(ctx context.Context, rawJWT, resumeToken string) (*domain.Session, error)
}

// Auth re-verifies the Bearer JWT and resume token pair on every request
// and loads the session into the gin context. No request is trusted on the
// strength of an earlier one.
func Auth(gate authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}
		rawJWT := strings.TrimPrefix(header, "Bearer ")

		resumeToken := ResumeToken(c)
		if resumeToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		session, err := gate.Authenticate(c.Request.Context(), rawJWT, resumeToken)
		if err != nil {
			var verr *usecase.VerifyError
			if errors.As(err, &verr) {
				switch verr.Code {
				case usecase.CodeTokenMismatch, usecase.CodeEmailMismatch:
					c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errSessionMismatch})
					return
				case usecase.CodeSessionNotFound:
					c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": errSessionNotFound})
					return
				case usecase.CodeInternal:
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
					return
				}
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errUnauthorized})
			return
		}

		c.Set(sessionKey, session)
		c.Next()
	}
}

// ResumeToken pulls the resume token from the X-Resume-Token header, falling
// back to the resume_token cookie.
func ResumeToken(c *gin.Context) string {
	if token := c.GetHeader("X-Resume-Token"); token != "" {
		return token
	}
	token, err := c.Cookie("resume_token")
	if err != nil {
		return ""
	}
	return token
}

// Session returns the session loaded by Auth, or nil outside an
// authenticated route.
func Session(c *gin.Context) *domain.Session {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil
	}
	session, _ := v.(*domain.Session)
	return session
}
