package handler

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/aformulationoftruth/questionnaire/internal/domain"
	"github.com/aformulationoftruth/questionnaire/internal/metrics"
	"github.com/aformulationoftruth/questionnaire/internal/usecase"
	"github.com/gin-gonic/gin"
)

// magicLinkMinter is the subset of TokenMinter the handler needs.
// Defined here (point of use) so tests can inject a fake.
type magicLinkMinter interface {
	Mint(ctx context.Context, email string, gate *usecase.GateAnswers) (*usecase.MintResult, error)
}

type linkVerifier interface {
	Verify(ctx context.Context, rawJWT, resumeToken string) (*usecase.VerifyResult, error)
}

type AuthHandler struct {
	minter   magicLinkMinter
	verifier linkVerifier
	sink     metrics.Sink
	logger   *slog.Logger
	env      string
}

func NewAuthHandler(minter magicLinkMinter, verifier linkVerifier, sink metrics.Sink, logger *slog.Logger, env string) *AuthHandler {
	return &AuthHandler{
		minter:   minter,
		verifier: verifier,
		sink:     sink,
		logger:   logger.With("component", "auth_handler"),
		env:      env,
	}
}

type magicLinkRequest struct {
	Email string `json:"email"`
}

type gateSubmitRequest struct {
	Email   string  `json:"email"`
	Answer1 *string `json:"answer1"`
	Answer2 *string `json:"answer2"`
}

// decodeStrict rejects unknown fields instead of silently dropping them.
func decodeStrict(c *gin.Context, dst any) error {
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// POST /api/auth/magic-link
func (h *AuthHandler) RequestMagicLink(c *gin.Context) {
	var req magicLinkRequest
	if err := decodeStrict(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidJSON})
		return
	}
	h.mint(c, req.Email, nil)
}

// POST /api/gate-submit
// Same minting flow, but carries the optional pre-auth gate answers.
func (h *AuthHandler) GateSubmit(c *gin.Context) {
	var req gateSubmitRequest
	if err := decodeStrict(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidJSON})
		return
	}
	h.sink.Increment("funnel.gate.email_entered")
	h.mint(c, req.Email, &usecase.GateAnswers{Answer1: req.Answer1, Answer2: req.Answer2})
}

func (h *AuthHandler) mint(c *gin.Context, email string, gate *usecase.GateAnswers) {
	out, err := h.minter.Mint(c.Request.Context(), email, gate)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEmailInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidEmail})
		case errors.Is(err, domain.ErrEmailSuspicious):
			c.JSON(http.StatusBadRequest, gin.H{"error": errSuspiciousEmail})
		case errors.Is(err, domain.ErrAnswerTooLong):
			c.JSON(http.StatusBadRequest, gin.H{"error": errAnswerTooLong})
		case errors.Is(err, domain.ErrEmailSendFailed):
			h.logger.ErrorContext(c.Request.Context(), "send magic link", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errEmailSend})
		default:
			h.logger.ErrorContext(c.Request.Context(), "mint magic link", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		}
		return
	}

	resp := gin.H{"message": "Magic link sent", "expiresAt": out.ExpiresAt}
	if out.MagicLinkURL != "" {
		resp["magicLink"] = out.MagicLinkURL
	}
	c.JSON(http.StatusOK, resp)
}

var verifyErrorPage = template.Must(template.New("verify_error").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign-in failed</title></head>
<body>
<h1>Sign-in link problem</h1>
<p>This sign-in link is invalid or has already been used. Request a new one to continue.</p>
<p data-error-code="{{.ErrorCode}}">Code: {{.ErrorCode}}</p>
</body>
</html>
`))

// GET /auth/verify?token=<jwt>&resume=<token>
// Success sets the cookie pair and redirects into the questionnaire.
// Failure renders a small HTML page carrying the error code.
func (h *AuthHandler) Verify(c *gin.Context) {
	res, err := h.verifier.Verify(c.Request.Context(), c.Query("token"), c.Query("resume"))
	if err != nil {
		code := usecase.CodeInternal
		var verr *usecase.VerifyError
		if errors.As(err, &verr) {
			code = verr.Code
		}
		status := http.StatusUnauthorized
		if code == usecase.CodeInternal {
			h.logger.ErrorContext(c.Request.Context(), "verify magic link", "error", err)
			status = http.StatusInternalServerError
		}
		h.renderVerifyError(c, status, code)
		return
	}

	secure := h.env == "production"
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie("jwt", res.JWT, int(res.JWTMaxAge.Seconds()), "/", "", secure, true)
	c.SetCookie("resume_token", res.ResumeToken, int(res.ResumeMaxAge.Seconds()), "/", "", secure, true)
	c.Redirect(http.StatusFound, "/questionnaire")
}

func (h *AuthHandler) renderVerifyError(c *gin.Context, status int, code usecase.VerifyCode) {
	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := verifyErrorPage.Execute(c.Writer, gin.H{"ErrorCode": string(code)}); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "render verify error page", "error", err)
	}
}
