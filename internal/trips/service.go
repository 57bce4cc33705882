// Package trips stores itinerary documents. Itineraries belong to
// authenticated users only; guests plan in chat and save after converting.
package trips

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tripfolio/server/internal/domain"
	"github.com/tripfolio/server/internal/storage"
)

// Collection is the document store collection holding itineraries.
const Collection = "itineraries"

// Service manages itinerary CRUD over a document store.
type Service struct {
	store storage.Store
	now   func() time.Time
}

// NewService creates an itinerary service backed by store.
func NewService(store storage.Store) *Service {
	return &Service{
		store: store,
		now:   time.Now,
	}
}

// Create saves a new itinerary owned by userID. The caller's id, owner and
// version fields are ignored.
func (s *Service) Create(ctx context.Context, userID string, it *domain.Itinerary) (*domain.Itinerary, error) {
	if userID == "" {
		return nil, domain.ErrValidation("user id is required")
	}

	now := s.now().UTC()
	saved := *it
	saved.ID = "itin_" + uuid.New().String()
	saved.OwnerUserID = userID
	saved.CreatedAt = now
	saved.UpdatedAt = now
	saved.Version = 0

	if err := saved.Validate(); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	doc, err := encode(&saved)
	if err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, Collection, doc); err != nil {
		return nil, domain.ErrInternal("failed to save itinerary")
	}
	saved.Version = doc.Version
	return &saved, nil
}

// Get fetches an itinerary, reporting foreign-owned ones as missing.
func (s *Service) Get(ctx context.Context, id, userID string) (*domain.Itinerary, error) {
	_, it, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if it.OwnerUserID != userID {
		return nil, errItineraryNotFound()
	}
	return it, nil
}

// List returns the user's itineraries, most recently updated first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*domain.Itinerary, error) {
	docs, err := s.store.ListByOwner(ctx, Collection, ownerKey(userID), limit)
	if err != nil {
		return nil, domain.ErrInternal("failed to list itineraries")
	}

	out := make([]*domain.Itinerary, 0, len(docs))
	for _, doc := range docs {
		it, err := decode(doc)
		if err != nil {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// Update replaces an itinerary's content. The caller must supply the
// version it read; a stale version is rejected with a conflict so two
// editors cannot silently overwrite each other.
func (s *Service) Update(ctx context.Context, userID string, it *domain.Itinerary) (*domain.Itinerary, error) {
	doc, stored, err := s.load(ctx, it.ID)
	if err != nil {
		return nil, err
	}
	if stored.OwnerUserID != userID {
		return nil, errItineraryNotFound()
	}

	next := *it
	next.OwnerUserID = stored.OwnerUserID
	next.CreatedAt = stored.CreatedAt
	next.UpdatedAt = s.now().UTC()
	if err := next.Validate(); err != nil {
		return nil, domain.ErrValidation(err.Error())
	}

	data, err := json.Marshal(&next)
	if err != nil {
		return nil, domain.ErrInternal("failed to encode itinerary")
	}
	doc.Version = it.Version
	doc.Data = data

	if err := s.store.Update(ctx, Collection, doc); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			return nil, domain.ErrValidation("itinerary was modified by another request, reload and retry").
				WithStatusCode(http.StatusConflict)
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errItineraryNotFound()
		}
		return nil, domain.ErrInternal("failed to update itinerary")
	}
	next.Version = doc.Version
	return &next, nil
}

// Delete removes an itinerary permanently.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	_, it, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if it.OwnerUserID != userID {
		return errItineraryNotFound()
	}

	if err := s.store.Delete(ctx, Collection, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errItineraryNotFound()
		}
		return domain.ErrInternal("failed to delete itinerary")
	}
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*storage.Document, *domain.Itinerary, error) {
	if id == "" {
		return nil, nil, domain.ErrValidation("itinerary id is required").WithParam("id")
	}
	doc, err := s.store.Get(ctx, Collection, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, errItineraryNotFound()
		}
		return nil, nil, domain.ErrInternal("failed to load itinerary")
	}
	it, err := decode(doc)
	if err != nil {
		return nil, nil, domain.ErrInternal("failed to load itinerary")
	}
	return doc, it, nil
}

func encode(it *domain.Itinerary) (*storage.Document, error) {
	data, err := json.Marshal(it)
	if err != nil {
		return nil, domain.ErrInternal("failed to encode itinerary")
	}
	return &storage.Document{
		ID:       it.ID,
		OwnerKey: ownerKey(it.OwnerUserID),
		Data:     data,
	}, nil
}

func decode(doc *storage.Document) (*domain.Itinerary, error) {
	var it domain.Itinerary
	if err := json.Unmarshal(doc.Data, &it); err != nil {
		return nil, fmt.Errorf("decode itinerary %s: %w", doc.ID, err)
	}
	it.Version = doc.Version
	return &it, nil
}

func ownerKey(userID string) string {
	return "user:" + userID
}

func errItineraryNotFound() *domain.APIError {
	return domain.ErrNotFound("itinerary not found")
}
