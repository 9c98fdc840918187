package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"profile-gate/internal/audit"
	"profile-gate/internal/clock"
	"profile-gate/internal/observability"
)

// Redeemer consumes a single-use capability ticket for a profile.
type Redeemer interface {
	Redeem(ctx context.Context, subjectID, raw string) (bool, error)
}

type Handler struct {
	redeemer Redeemer
	source   Source
	events   audit.Sink
	logger   *observability.Logger
	clock    clock.Clock
}

func NewHandler(redeemer Redeemer, source Source, events audit.Sink, logger *observability.Logger, clk clock.Clock) *Handler {
	if events == nil {
		events = audit.NoOpSink{}
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Handler{redeemer: redeemer, source: source, events: events, logger: logger, clock: clk}
}

// DownloadContact redeems the token in the query string and returns the
// profile's contact card. Every redemption failure gets the same 403.
func (h *Handler) DownloadContact(w http.ResponseWriter, r *http.Request) {
	profileID := strings.TrimSpace(r.PathValue("profileId"))
	token := strings.TrimSpace(r.URL.Query().Get("token"))

	ok, err := h.redeemer.Redeem(r.Context(), profileID, token)
	if err != nil {
		h.logger.Error("capability_redeem_failed", map[string]any{
			"profile_id": profileID,
			"error":      err.Error(),
		})
		sentry.CaptureException(err)
	}
	if err != nil || !ok {
		h.emit(r.Context(), audit.EventCapabilityRejected, profileID)
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	h.emit(r.Context(), audit.EventCapabilityRedeemed, profileID)

	contact, err := h.source.Contact(r.Context(), profileID)
	if err != nil {
		if errors.Is(err, ErrContactNotFound) {
			writeError(w, http.StatusNotFound, "contact not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load contact")
		return
	}

	w.Header().Set("Content-Type", "text/vcard; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="contact.vcf"`)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(RenderVCard(contact)))
}

func (h *Handler) emit(ctx context.Context, eventType, profileID string) {
	h.events.Emit(ctx, audit.Event{Type: eventType, ProfileID: profileID, At: h.clock.Now()})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
