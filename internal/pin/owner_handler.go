package pin

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"profile-gate/internal/auth"
)

var ownerPINPattern = regexp.MustCompile(`^[A-Za-z0-9]{4,32}$`)

const maxTitleLength = 120

type OwnerHandler struct {
	pages *Pages
}

func NewOwnerHandler(pages *Pages) *OwnerHandler {
	return &OwnerHandler{pages: pages}
}

type createPageRequest struct {
	Title          string         `json:"title"`
	PIN            string         `json:"pin"`
	VisibilityMode VisibilityMode `json:"visibilityMode"`
	AllowRemember  bool           `json:"allowRemember"`
}

type rotatePINRequest struct {
	PIN string `json:"pin"`
}

type updatePageRequest struct {
	Title          *string         `json:"title"`
	VisibilityMode *VisibilityMode `json:"visibilityMode"`
	AllowRemember  *bool           `json:"allowRemember"`
	IsActive       *bool           `json:"isActive"`
}

func (h *OwnerHandler) ListPages(w http.ResponseWriter, r *http.Request) {
	profileID, ok := auth.ProfileID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	pages, err := h.pages.List(r.Context(), profileID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list pages")
		return
	}

	writeJSON(w, http.StatusOK, pages)
}

func (h *OwnerHandler) CreatePage(w http.ResponseWriter, r *http.Request) {
	profileID, ok := auth.ProfileID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body createPageRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Title = strings.TrimSpace(body.Title)
	if body.Title == "" || utf8.RuneCountInString(body.Title) > maxTitleLength {
		writeError(w, http.StatusBadRequest, "title is required and must be at most 120 characters")
		return
	}
	if !ownerPINPattern.MatchString(body.PIN) {
		writeError(w, http.StatusBadRequest, "pin must be 4 to 32 letters or digits")
		return
	}
	if body.VisibilityMode == "" {
		body.VisibilityMode = VisibilityVisible
	}
	if !body.VisibilityMode.Valid() {
		writeError(w, http.StatusBadRequest, "visibilityMode must be hidden or visible")
		return
	}

	page, err := h.pages.Create(r.Context(), profileID, body.Title, body.PIN, body.VisibilityMode, body.AllowRemember)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create page")
		return
	}

	writeJSON(w, http.StatusCreated, page)
}

func (h *OwnerHandler) RotatePIN(w http.ResponseWriter, r *http.Request) {
	profileID, ok := auth.ProfileID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid page id")
		return
	}

	var body rotatePINRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if !ownerPINPattern.MatchString(body.PIN) {
		writeError(w, http.StatusBadRequest, "pin must be 4 to 32 letters or digits")
		return
	}

	page, err := h.pages.RotatePIN(r.Context(), profileID, id, body.PIN)
	if err != nil {
		if errors.Is(err, ErrPageNotFound) {
			writeError(w, http.StatusNotFound, "page not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to rotate pin")
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *OwnerHandler) UpdatePage(w http.ResponseWriter, r *http.Request) {
	profileID, ok := auth.ProfileID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid page id")
		return
	}

	var body updatePageRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if body.Title != nil {
		title := strings.TrimSpace(*body.Title)
		if title == "" || utf8.RuneCountInString(title) > maxTitleLength {
			writeError(w, http.StatusBadRequest, "title must be 1 to 120 characters")
			return
		}
		body.Title = &title
	}
	if body.VisibilityMode != nil && !body.VisibilityMode.Valid() {
		writeError(w, http.StatusBadRequest, "visibilityMode must be hidden or visible")
		return
	}

	page, err := h.pages.Update(r.Context(), profileID, id, PagePatch{
		Title:          body.Title,
		VisibilityMode: body.VisibilityMode,
		AllowRemember:  body.AllowRemember,
		IsActive:       body.IsActive,
	})
	if err != nil {
		if errors.Is(err, ErrPageNotFound) {
			writeError(w, http.StatusNotFound, "page not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update page")
		return
	}

	writeJSON(w, http.StatusOK, page)
}
