package handlers

import (
	"net/http"

	"github.com/bastionsec/bastion/internal/auth"
	"github.com/bastionsec/bastion/internal/models"
	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

// CSRFHandler issues double-submit tokens for the credential endpoints
type CSRFHandler struct {
	csrf      *auth.CSRFGuard
	extractor *pkghttp.IPExtractor
	settings  Settings
}

// NewCSRFHandler creates a new CSRFHandler
func NewCSRFHandler(csrf *auth.CSRFGuard, extractor *pkghttp.IPExtractor, settings Settings) *CSRFHandler {
	return &CSRFHandler{
		csrf:      csrf,
		extractor: extractor,
		settings:  settings,
	}
}

// CSRFTokenResponse carries the issued token. The same value is set as a
// cookie; clients echo it back in the CSRF header.
type CSRFTokenResponse struct {
	Token      string `json:"csrf_token"`
	HeaderName string `json:"header_name"`
	ExpiresIn  int64  `json:"expires_in"`
}

// Issue mints a CSRF token bound to the caller's address and user agent
// @Summary Issue CSRF token
// @Produce json
// @Success 200 {object} CSRFTokenResponse
// @Failure 503 {object} ErrorResponse
// @Router /v1/csrf [get]
func (h *CSRFHandler) Issue(w http.ResponseWriter, r *http.Request) {
	binding := models.CSRFBinding{
		IPAddress:     h.extractor.ClientIP(r),
		UserAgentHash: auth.HashUserAgent(r.Header.Get("User-Agent")),
	}
	if claims := auth.GetUserFromContext(r); claims != nil {
		binding.SubjectID = claims.Email
	}

	token, record, err := h.csrf.Issue(r.Context(), binding)
	if err != nil {
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
		return
	}

	maxAge := int(h.settings.CSRFTokenTTL.Seconds())
	auth.SetCSRFTokenCookie(w, h.settings.CSRFCookieName, token, maxAge, h.settings.Cookies)

	pkghttp.WriteJSON(w, http.StatusOK, CSRFTokenResponse{
		Token:      token,
		HeaderName: h.settings.CSRFHeaderName,
		ExpiresIn:  int64(record.ExpiresAt.Sub(record.IssuedAt).Seconds()),
	})
}
