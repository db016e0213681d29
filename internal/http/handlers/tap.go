package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tapreward/server/internal/reward"
)

// SessionCookie describes the cookie that carries the tap session token
type SessionCookie struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

func (c SessionCookie) set(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.TTL.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (c SessionCookie) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// TapHandler handles the landing request of an NFC tap
type TapHandler struct {
	service *reward.Service
	cookie  SessionCookie
}

// NewTapHandler creates a new tap handler
func NewTapHandler(service *reward.Service, cookie SessionCookie) *TapHandler {
	return &TapHandler{service: service, cookie: cookie}
}

// tapResponse is the JSON response of GET /tap without a redirect target
type tapResponse struct {
	ChipID    string `json:"chipId"`
	ExpiresIn int    `json:"expiresIn,omitempty"`
}

// HandleTap handles GET /tap?ref=...&redirectTo=/path
func (h *TapHandler) HandleTap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := q.Get("ref")
	if ref == "" {
		ref = q.Get("iykRef")
	}

	session, chip, err := h.service.ExchangeTap(r.Context(), ref)
	if err != nil {
		respondWithOutcome(w, err)
		return
	}

	expiresIn := 0
	if session.Token != "" {
		h.cookie.set(w, session.Token)
		expiresIn = int(h.cookie.TTL.Seconds())
	}

	if target, ok := safeRedirect(q.Get("redirectTo")); ok {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	respondJSON(w, http.StatusOK, tapResponse{ChipID: chip.ID.String(), ExpiresIn: expiresIn})
}

// safeRedirect accepts only same-origin absolute paths.
func safeRedirect(target string) (string, bool) {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return "", false
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", false
	}
	return u.String(), true
}
