package pin

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
)

const (
	maxJSONBodyBytes = 1 << 16
	maxPINLength     = 64
	maxIDLength      = 64
)

// OriginHasher turns a request into the one-way hash of its network origin.
type OriginHasher interface {
	FromRequest(r *http.Request) string
}

type Handler struct {
	service       *Service
	origins       OriginHasher
	secureCookies bool
}

func NewHandler(service *Service, origins OriginHasher, secureCookies bool) *Handler {
	return &Handler{service: service, origins: origins, secureCookies: secureCookies}
}

type unlockRequest struct {
	ProfileID    string `json:"profileId"`
	PIN          string `json:"pin"`
	TargetPageID string `json:"targetPageId"`
}

type unlockResponse struct {
	Success       bool   `json:"success"`
	PageID        string `json:"pageId"`
	DownloadToken string `json:"downloadToken,omitempty"`
}

type rememberRequest struct {
	PageID    string `json:"pageId"`
	ProfileID string `json:"profileId"`
}

type forgetRequest struct {
	PageID string `json:"pageId"`
}

func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	var body unlockRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.ProfileID = strings.TrimSpace(body.ProfileID)
	body.TargetPageID = strings.TrimSpace(body.TargetPageID)
	if !validID(body.ProfileID) {
		writeError(w, http.StatusBadRequest, "profileId is required")
		return
	}
	if body.PIN == "" || len(body.PIN) > maxPINLength {
		writeError(w, http.StatusBadRequest, "pin is required")
		return
	}
	if len(body.TargetPageID) > maxIDLength {
		writeError(w, http.StatusBadRequest, "targetPageId is invalid")
		return
	}

	result, err := h.service.Unlock(r.Context(), UnlockRequest{
		ProfileID:    body.ProfileID,
		PIN:          body.PIN,
		TargetPageID: body.TargetPageID,
		OriginHash:   h.origins.FromRequest(r),
	})
	if err != nil {
		var incorrect ErrIncorrectPIN
		if errors.As(err, &incorrect) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":             "incorrect pin",
				"remainingAttempts": incorrect.RemainingAttempts,
			})
			return
		}
		var locked ErrLocked
		if errors.As(err, &locked) {
			retryAfter := int(math.Ceil(locked.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":             "too many failed attempts, try again later",
				"locked":            true,
				"retryAfterSeconds": retryAfter,
			})
			return
		}
		if errors.Is(err, ErrLockoutUnavailable) {
			sentry.CaptureException(err)
			writeError(w, http.StatusServiceUnavailable, "pin verification temporarily unavailable")
			return
		}

		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to verify pin")
		return
	}

	writeJSON(w, http.StatusOK, unlockResponse{
		Success:       true,
		PageID:        result.PageID,
		DownloadToken: result.DownloadToken,
	})
}

func (h *Handler) Remember(w http.ResponseWriter, r *http.Request) {
	var body rememberRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.PageID = strings.TrimSpace(body.PageID)
	body.ProfileID = strings.TrimSpace(body.ProfileID)
	if !validID(body.PageID) || !validID(body.ProfileID) {
		writeError(w, http.StatusBadRequest, "pageId and profileId are required")
		return
	}

	grant, err := h.service.Remember(r.Context(), body.ProfileID, body.PageID)
	if err != nil {
		if errors.Is(err, ErrPageNotFound) {
			writeError(w, http.StatusNotFound, "page not found")
			return
		}
		if errors.Is(err, ErrRememberNotAllowed) {
			writeError(w, http.StatusForbidden, "remember is not allowed for this page")
			return
		}

		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to remember device")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     grant.CookieName,
		Value:    grant.Token,
		Path:     "/",
		MaxAge:   int(grant.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	profileID := strings.TrimSpace(r.URL.Query().Get("profileId"))
	if !validID(profileID) {
		writeError(w, http.StatusBadRequest, "profileId is required")
		return
	}

	remembered, err := h.service.CheckRemembered(r.Context(), profileID, func(name string) (string, bool) {
		cookie, err := r.Cookie(name)
		if err != nil {
			return "", false
		}
		return cookie.Value, true
	})
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to check remembered pages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"rememberedPages": remembered})
}

func (h *Handler) Forget(w http.ResponseWriter, r *http.Request) {
	var body forgetRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.PageID = strings.TrimSpace(body.PageID)
	if !validID(body.PageID) {
		writeError(w, http.StatusBadRequest, "pageId is required")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName(body.PageID),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLength
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
