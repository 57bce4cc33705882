// Package session owns chat session records and their state transitions.
// All message mutation flows through AppendMessage; concurrent writers to
// the same session serialize through the document store's version check.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tripfolio/server/internal/domain"
	"github.com/tripfolio/server/internal/memory"
	"github.com/tripfolio/server/internal/storage"
)

// Collection is the document store collection holding chat sessions.
const Collection = "chat_sessions"

const (
	maxUpdateAttempts = 3
	maxTitleRunes     = 64
)

// Service manages chat sessions over a document store.
type Service struct {
	store  storage.Store
	window int
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithWindowSize sets the conversation-memory window capacity.
func WithWindowSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.window = n
		}
	}
}

// NewService creates a session service backed by store.
func NewService(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		window: memory.DefaultWindowSize,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create allocates a new Active session for owner. The conversation memory
// window starts empty regardless of the supplied context.
func (s *Service) Create(ctx context.Context, owner domain.Owner, title string, sessCtx *domain.SessionContext) (*domain.ChatSession, error) {
	if err := owner.Validate(); err != nil {
		return nil, domain.ErrValidation(err.Error()).WithParam("owner")
	}

	now := s.now().UTC()
	sess := &domain.ChatSession{
		ID:        newSessionID(),
		Owner:     owner,
		Title:     strings.TrimSpace(title),
		Messages:  []domain.ChatMessage{},
		Status:    domain.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sessCtx != nil {
		if err := sessCtx.Validate(); err != nil {
			return nil, domain.ErrValidation(err.Error()).WithParam("context")
		}
		sess.Context = sessCtx.Clone()
	}
	sess.Context.ConversationMemory = nil

	doc, err := encode(sess)
	if err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, Collection, doc); err != nil {
		return nil, domain.ErrInternal("failed to create session")
	}
	sess.Version = doc.Version
	return sess, nil
}

// Get fetches a session and verifies ownership. A session owned by someone
// else is reported as missing so callers cannot probe for foreign ids.
func (s *Service) Get(ctx context.Context, id string, owner domain.Owner) (*domain.ChatSession, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Owner.Key() != owner.Key() {
		return nil, errSessionNotFound()
	}
	return sess, nil
}

// List returns the owner's sessions, most recently updated first. Deleted
// sessions are tombstones and never listed.
func (s *Service) List(ctx context.Context, owner domain.Owner, limit int) ([]*domain.ChatSession, error) {
	docs, err := s.store.ListByOwner(ctx, Collection, owner.Key(), 0)
	if err != nil {
		return nil, domain.ErrInternal("failed to list sessions")
	}

	sessions := make([]*domain.ChatSession, 0, len(docs))
	for _, doc := range docs {
		sess, err := decode(doc)
		if err != nil {
			slog.Warn("skipping undecodable session record",
				slog.String("session_id", doc.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if sess.Status == domain.SessionDeleted {
			continue
		}
		sessions = append(sessions, sess)
		if limit > 0 && len(sessions) >= limit {
			break
		}
	}
	return sessions, nil
}

// AppendMessage appends one turn to a session and pushes the formatted
// entry into the conversation-memory window. It is the only mutation path
// for messages. Version conflicts from concurrent appends are retried a
// bounded number of times.
func (s *Service) AppendMessage(ctx context.Context, id string, owner domain.Owner, role domain.MessageRole, content string, attachments []domain.Attachment) (*domain.ChatSession, error) {
	if !domain.ValidRole(role) {
		return nil, domain.ErrValidation(fmt.Sprintf("unknown message role %q", role)).WithParam("role")
	}
	if strings.TrimSpace(content) == "" {
		return nil, domain.ErrValidation("message content is required").WithParam("content")
	}
	for _, a := range attachments {
		if err := a.Validate(); err != nil {
			return nil, domain.ErrValidation(err.Error()).WithParam("attachments")
		}
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		doc, sess, err := s.loadDoc(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess.Owner.Key() != owner.Key() {
			return nil, errSessionNotFound()
		}
		if !sess.Open() {
			return nil, errSessionClosed()
		}

		now := s.now().UTC()
		msg := domain.ChatMessage{
			ID:          newMessageID(),
			Role:        role,
			Content:     content,
			Timestamp:   now,
			Attachments: attachments,
		}
		sess.Messages = append(sess.Messages, msg)
		if sess.Title == "" {
			sess.Title = defaultTitle(content)
		}
		sess.Context.ConversationMemory = memory.Push(
			sess.Context.ConversationMemory,
			memory.FormatTurn(string(role), content),
			s.window,
		)
		sess.UpdatedAt = now

		if err := s.save(ctx, doc, sess); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				continue
			}
			return nil, domain.ErrInternal("failed to store message")
		}
		return sess, nil
	}
	return nil, domain.ErrInternal("session is receiving concurrent updates, retry")
}

// ConvertGuestToUser promotes a guest session to a fresh user-owned session.
// The guest record is soft-deleted with a tombstone pointing at the new id,
// which makes the operation idempotent: converting an already-converted
// session resolves to the existing target. The two writes are not atomic; a
// crash between them leaves an orphan user session that the tombstone check
// tolerates.
func (s *Service) ConvertGuestToUser(ctx context.Context, guestSessionID, userID string) (*domain.ChatSession, error) {
	if userID == "" {
		return nil, domain.ErrValidation("user id is required").WithParam("userId")
	}

	guest, err := s.load(ctx, guestSessionID)
	if err != nil {
		return nil, err
	}
	if guest.Owner.Kind != domain.OwnerKindGuest {
		return nil, domain.ErrValidation("session is not a guest session").WithParam("guestSessionId")
	}
	if guest.ConvertedToSessionID != "" {
		return s.resolveConverted(ctx, guest, userID)
	}
	if !guest.Open() {
		return nil, errSessionClosed()
	}

	now := s.now().UTC()
	copied := guest.Clone()
	converted := &domain.ChatSession{
		ID:        newSessionID(),
		Owner:     domain.UserOwner(userID),
		Title:     copied.Title,
		Messages:  copied.Messages,
		Context:   copied.Context,
		Status:    domain.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc, err := encode(converted)
	if err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, Collection, doc); err != nil {
		return nil, domain.ErrInternal("failed to create converted session")
	}
	converted.Version = doc.Version

	target, err := s.tombstone(ctx, guestSessionID, converted, userID)
	if err != nil {
		return nil, err
	}
	return target, nil
}

// tombstone marks the guest record Deleted and points it at converted. On a
// version conflict it re-reads: a concurrent conversion that won the race
// supplies the target instead, and the locally created session is left as a
// tolerated orphan.
func (s *Service) tombstone(ctx context.Context, guestSessionID string, converted *domain.ChatSession, userID string) (*domain.ChatSession, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		doc, guest, err := s.loadDoc(ctx, guestSessionID)
		if err != nil {
			return nil, err
		}
		if guest.ConvertedToSessionID != "" && guest.ConvertedToSessionID != converted.ID {
			slog.Warn("guest conversion lost race, orphan session left",
				slog.String("guest_session_id", guestSessionID),
				slog.String("orphan_session_id", converted.ID),
				slog.String("winner_session_id", guest.ConvertedToSessionID),
			)
			return s.resolveConverted(ctx, guest, userID)
		}

		guest.Status = domain.SessionDeleted
		guest.ConvertedToSessionID = converted.ID
		guest.UpdatedAt = s.now().UTC()

		if err := s.save(ctx, doc, guest); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				continue
			}
			return nil, domain.ErrInternal("failed to tombstone guest session")
		}
		return converted, nil
	}
	return nil, domain.ErrInternal("session is receiving concurrent updates, retry")
}

// resolveConverted follows a tombstone to the converted session, refusing to
// reveal a target that belongs to a different user.
func (s *Service) resolveConverted(ctx context.Context, guest *domain.ChatSession, userID string) (*domain.ChatSession, error) {
	target, err := s.load(ctx, guest.ConvertedToSessionID)
	if err != nil {
		return nil, err
	}
	if target.Owner.UserID != userID {
		return nil, domain.ErrAuthorization("session was converted for a different user").
			WithCode(domain.ErrorCodeOwnershipMismatch)
	}
	return target, nil
}

// Delete soft-deletes a session. History is retained; nothing is removed
// from the store. Deleting an already deleted session is a no-op.
func (s *Service) Delete(ctx context.Context, id string, owner domain.Owner) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		doc, sess, err := s.loadDoc(ctx, id)
		if err != nil {
			return err
		}
		if sess.Owner.Key() != owner.Key() {
			return errSessionNotFound()
		}
		if sess.Status == domain.SessionDeleted {
			return nil
		}

		sess.Status = domain.SessionDeleted
		sess.UpdatedAt = s.now().UTC()

		if err := s.save(ctx, doc, sess); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				continue
			}
			return domain.ErrInternal("failed to delete session")
		}
		return nil
	}
	return domain.ErrInternal("session is receiving concurrent updates, retry")
}

// SetItineraryRef points the session context at an itinerary record.
func (s *Service) SetItineraryRef(ctx context.Context, id string, owner domain.Owner, itineraryID string) (*domain.ChatSession, error) {
	if len(itineraryID) > 64 {
		return nil, domain.ErrValidation("itinerary ref too long").WithParam("itineraryId")
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		doc, sess, err := s.loadDoc(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess.Owner.Key() != owner.Key() {
			return nil, errSessionNotFound()
		}
		if !sess.Open() {
			return nil, errSessionClosed()
		}

		sess.Context.CurrentItineraryRef = itineraryID
		sess.UpdatedAt = s.now().UTC()

		if err := s.save(ctx, doc, sess); err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				continue
			}
			return nil, domain.ErrInternal("failed to update session")
		}
		return sess, nil
	}
	return nil, domain.ErrInternal("session is receiving concurrent updates, retry")
}

func (s *Service) load(ctx context.Context, id string) (*domain.ChatSession, error) {
	_, sess, err := s.loadDoc(ctx, id)
	return sess, err
}

func (s *Service) loadDoc(ctx context.Context, id string) (*storage.Document, *domain.ChatSession, error) {
	if id == "" {
		return nil, nil, domain.ErrValidation("session id is required").WithParam("sessionId")
	}
	doc, err := s.store.Get(ctx, Collection, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, errSessionNotFound()
		}
		return nil, nil, domain.ErrInternal("failed to load session")
	}
	sess, err := decode(doc)
	if err != nil {
		return nil, nil, domain.ErrInternal("failed to load session")
	}
	return doc, sess, nil
}

func (s *Service) save(ctx context.Context, doc *storage.Document, sess *domain.ChatSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	doc.Data = data
	if err := s.store.Update(ctx, Collection, doc); err != nil {
		return err
	}
	sess.Version = doc.Version
	return nil
}

func encode(sess *domain.ChatSession) (*storage.Document, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, domain.ErrInternal("failed to encode session")
	}
	return &storage.Document{
		ID:       sess.ID,
		OwnerKey: sess.Owner.Key(),
		Data:     data,
	}, nil
}

func decode(doc *storage.Document) (*domain.ChatSession, error) {
	var sess domain.ChatSession
	if err := json.Unmarshal(doc.Data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", doc.ID, err)
	}
	sess.Version = doc.Version
	return &sess, nil
}

func defaultTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes])
	}
	return title
}

func newSessionID() string {
	return "sess_" + uuid.New().String()
}

func newMessageID() string {
	return "msg_" + uuid.New().String()
}

func errSessionNotFound() *domain.APIError {
	return domain.ErrNotFound("session not found").WithCode(domain.ErrorCodeSessionNotFound)
}

func errSessionClosed() *domain.APIError {
	return domain.ErrValidation("session is closed").WithCode(domain.ErrorCodeSessionClosed)
}
