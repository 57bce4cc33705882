package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tripfolio/server/internal/assistant"
	"github.com/tripfolio/server/internal/audit"
	"github.com/tripfolio/server/internal/auth"
	"github.com/tripfolio/server/internal/domain"
	"github.com/tripfolio/server/internal/security"
	"github.com/tripfolio/server/internal/session"
	"github.com/tripfolio/server/internal/trips"
)

// guestCookieMaxAge keeps the guest identity stable across visits long
// enough for a returning visitor to convert their session.
const guestCookieMaxAge = 30 * 24 * time.Hour

// handlers carries the services behind the HTTP surface.
type handlers struct {
	logger    *slog.Logger
	sessions  *session.Service
	trips     *trips.Service
	assistant *assistant.Service
	auditor   *audit.Logger
	csrf      *security.CSRF
}

type guestChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type guestChatResponse struct {
	Response  string   `json:"response"`
	SessionID string   `json:"sessionId"`
	Warnings  []string `json:"warnings,omitempty"`
}

type createGuestSessionRequest struct {
	Title string `json:"title"`
}

type createGuestSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type chatRequest struct {
	Message     string                 `json:"message"`
	SessionID   string                 `json:"sessionId"`
	Context     *domain.SessionContext `json:"context"`
	Attachments []domain.Attachment    `json:"attachments"`
}

type chatResponse struct {
	Session  *domain.ChatSession `json:"session"`
	Response string              `json:"response"`
	Warnings []string            `json:"warnings,omitempty"`
}

type convertGuestRequest struct {
	GuestSessionID string `json:"guestSessionId"`
	UserID         string `json:"userId"`
}

type sessionResponse struct {
	Session *domain.ChatSession `json:"session"`
}

type sessionListResponse struct {
	Sessions []*domain.ChatSession `json:"sessions"`
}

type generateItineraryRequest struct {
	Destination string   `json:"destination"`
	Days        int      `json:"days"`
	StartDate   string   `json:"startDate"`
	Interests   []string `json:"interests"`
	SessionID   string   `json:"sessionId"`
}

type itineraryResponse struct {
	Itinerary *domain.Itinerary `json:"itinerary"`
}

type itineraryListResponse struct {
	Itineraries []*domain.Itinerary `json:"itineraries"`
}

type auditEventsResponse struct {
	Events []audit.Event `json:"events"`
}

type suspiciousResponse struct {
	UserID        string `json:"userId"`
	Suspicious    bool   `json:"suspicious"`
	WindowMinutes int    `json:"windowMinutes"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// csrfToken issues an anti-forgery token and mirrors it into a cookie and
// a response header alongside the JSON body.
func (h *handlers) csrfToken(w http.ResponseWriter, r *http.Request) {
	if h.csrf == nil {
		writeError(w, r, domain.ErrInternal("csrf tokens are not configured"))
		return
	}
	token, err := h.csrf.Issue("")
	if err != nil {
		writeError(w, r, domain.ErrInternal("could not issue csrf token"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.csrf.MaxAge().Seconds()),
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	w.Header().Set(CSRFHeader, token)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// createGuestSession opens a fresh session for an anonymous visitor. A
// caller with no guest identity yet gets one minted and set as a cookie.
func (h *handlers) createGuestSession(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	if id.Authenticated() {
		writeError(w, r, domain.ErrValidation("authenticated callers start sessions through /api/chat"))
		return
	}

	var req createGuestSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	guestID := id.GuestID
	if guestID == "" {
		guestID = uuid.New().String()
		http.SetCookie(w, &http.Cookie{
			Name:     auth.GuestIDCookie,
			Value:    guestID,
			Path:     "/",
			MaxAge:   int(guestCookieMaxAge.Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   r.TLS != nil,
		})
	}

	sess, err := h.sessions.Create(r.Context(), domain.GuestOwner(guestID), req.Title, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createGuestSessionResponse{SessionID: sess.ID})
}

// guestChat relays one message from an anonymous visitor. The session must
// already exist and belong to the caller's guest identity; there is no
// implicit creation on this path.
func (h *handlers) guestChat(w http.ResponseWriter, r *http.Request) {
	var req guestChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, r, domain.ErrValidation("message is required").WithParam("message"))
		return
	}
	if req.SessionID == "" {
		writeError(w, r, domain.ErrValidation("sessionId is required").WithParam("sessionId"))
		return
	}

	id, _ := auth.IdentityFrom(r.Context())
	if id.GuestID == "" {
		// No guest identity means the caller cannot own any session.
		writeError(w, r, domain.ErrNotFound("session not found").
			WithCode(domain.ErrorCodeSessionNotFound))
		return
	}
	owner := domain.GuestOwner(id.GuestID)

	sess, err := h.sessions.Get(r.Context(), req.SessionID, owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !sess.Open() {
		writeError(w, r, domain.ErrValidation("session is closed").
			WithCode(domain.ErrorCodeSessionClosed))
		return
	}

	reply, warnings, err := h.assistant.Chat(r.Context(), sess, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := h.sessions.AppendMessage(r.Context(), sess.ID, owner, domain.RoleUser, req.Message, nil); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.sessions.AppendMessage(r.Context(), sess.ID, owner, domain.RoleAssistant, reply, nil); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, guestChatResponse{
		Response:  reply,
		SessionID: sess.ID,
		Warnings:  warnings,
	})
}

// chat relays one message from an authenticated user, creating the session
// first when none is named.
func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	owner := domain.UserOwner(id.UserID)

	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, r, domain.ErrValidation("message is required").WithParam("message"))
		return
	}
	for _, a := range req.Attachments {
		if err := a.Validate(); err != nil {
			writeError(w, r, domain.ErrValidation(err.Error()).WithParam("attachments"))
			return
		}
	}

	var sess *domain.ChatSession
	var err error
	if req.SessionID == "" {
		sess, err = h.sessions.Create(r.Context(), owner, "", req.Context)
	} else {
		sess, err = h.sessions.Get(r.Context(), req.SessionID, owner)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !sess.Open() {
		writeError(w, r, domain.ErrValidation("session is closed").
			WithCode(domain.ErrorCodeSessionClosed))
		return
	}

	reply, warnings, err := h.assistant.Chat(r.Context(), sess, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := h.sessions.AppendMessage(r.Context(), sess.ID, owner, domain.RoleUser, req.Message, req.Attachments); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := h.sessions.AppendMessage(r.Context(), sess.ID, owner, domain.RoleAssistant, reply, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Session:  updated,
		Response: reply,
		Warnings: warnings,
	})
}

// convertGuest promotes a guest session to the authenticated caller. The
// body names the target user explicitly; a mismatch with the verified
// identity is an authorization failure and is audited as one.
func (h *handlers) convertGuest(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req convertGuestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.GuestSessionID == "" {
		writeError(w, r, domain.ErrValidation("guestSessionId is required").WithParam("guestSessionId"))
		return
	}
	if req.UserID == "" {
		writeError(w, r, domain.ErrValidation("userId is required").WithParam("userId"))
		return
	}
	if req.UserID != id.UserID {
		if h.auditor != nil {
			h.auditor.Log(r.Context(), audit.Event{
				Type:      audit.EventAuthorization,
				Severity:  audit.SeverityMedium,
				UserID:    id.UserID,
				IPAddress: id.IPAddress,
				Action:    "session.convert",
				Resource:  req.GuestSessionID,
				Success:   false,
				Details:   map[string]string{"requested_user": req.UserID},
			})
		}
		writeError(w, r, domain.ErrAuthorization("cannot convert a session for another user").
			WithCode(domain.ErrorCodeIdentityMismatch))
		return
	}

	sess, err := h.sessions.ConvertGuestToUser(r.Context(), req.GuestSessionID, id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess})
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	sessions, err := h.sessions.List(r.Context(), domain.UserOwner(id.UserID), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.ChatSession{}
	}
	writeJSON(w, http.StatusOK, sessionListResponse{Sessions: sessions})
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	sess, err := h.sessions.Get(r.Context(), chi.URLParam(r, "id"), domain.UserOwner(id.UserID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess})
}

func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	if err := h.sessions.Delete(r.Context(), chi.URLParam(r, "id"), domain.UserOwner(id.UserID)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// generateItinerary asks the model for a structured trip plan, persists
// it, and links it to the named session when one is given. A failed link is
// reported in the log but does not throw away the saved itinerary.
func (h *handlers) generateItinerary(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	owner := domain.UserOwner(id.UserID)

	var req generateItineraryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var sess *domain.ChatSession
	if req.SessionID != "" {
		var err error
		sess, err = h.sessions.Get(r.Context(), req.SessionID, owner)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	it, err := h.assistant.GenerateItinerary(r.Context(), sess, assistant.ItineraryRequest{
		Destination: req.Destination,
		Days:        req.Days,
		StartDate:   req.StartDate,
		Interests:   req.Interests,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	saved, err := h.trips.Create(r.Context(), id.UserID, it)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if sess != nil {
		if _, err := h.sessions.SetItineraryRef(r.Context(), sess.ID, owner, saved.ID); err != nil {
			h.logger.Warn("itinerary saved but session link failed",
				slog.String("session_id", sess.ID),
				slog.String("itinerary_id", saved.ID),
				slog.String("error", err.Error()),
			)
			AddError(r.Context(), err)
		}
	}

	writeJSON(w, http.StatusOK, itineraryResponse{Itinerary: saved})
}

func (h *handlers) listItineraries(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	items, err := h.trips.List(r.Context(), id.UserID, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []*domain.Itinerary{}
	}
	writeJSON(w, http.StatusOK, itineraryListResponse{Itineraries: items})
}

func (h *handlers) getItinerary(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	it, err := h.trips.Get(r.Context(), chi.URLParam(r, "id"), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itineraryResponse{Itinerary: it})
}

func (h *handlers) updateItinerary(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var it domain.Itinerary
	if err := decodeJSON(w, r, &it); err != nil {
		writeError(w, r, err)
		return
	}
	it.ID = chi.URLParam(r, "id")

	updated, err := h.trips.Update(r.Context(), id.UserID, &it)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itineraryResponse{Itinerary: updated})
}

func (h *handlers) deleteItinerary(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	if err := h.trips.Delete(r.Context(), chi.URLParam(r, "id"), id.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *handlers) auditEvents(w http.ResponseWriter, r *http.Request) {
	if h.auditor == nil {
		writeJSON(w, http.StatusOK, auditEventsResponse{Events: []audit.Event{}})
		return
	}

	events, err := h.auditor.RecentEvents(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, r, domain.ErrInternal("could not list audit events"))
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, auditEventsResponse{Events: events})
}

func (h *handlers) auditSuspicious(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	minutes := queryInt(r, "window_minutes", 15)
	if minutes <= 0 {
		minutes = 15
	}

	suspicious := false
	if h.auditor != nil {
		suspicious = h.auditor.CheckSuspiciousActivity(r.Context(), userID, time.Duration(minutes)*time.Minute)
	}
	writeJSON(w, http.StatusOK, suspiciousResponse{
		UserID:        userID,
		Suspicious:    suspicious,
		WindowMinutes: minutes,
	})
}
