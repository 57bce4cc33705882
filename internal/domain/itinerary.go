package domain

import (
	"fmt"
	"strings"
	"time"
)

// ItineraryStop is one activity within a day.
type ItineraryStop struct {
	Time     string `json:"time,omitempty"`
	Name     string `json:"name"`
	Kind     string `json:"kind,omitempty"`
	Notes    string `json:"notes,omitempty"`
	Location string `json:"location,omitempty"`
}

// ItineraryDay groups the stops planned for a single day of the trip.
type ItineraryDay struct {
	Day   int             `json:"day"`
	Title string          `json:"title,omitempty"`
	Stops []ItineraryStop `json:"stops"`
}

// Itinerary is a structured trip plan. Sessions reference itineraries by id
// through SessionContext.CurrentItineraryRef; the documents themselves live
// in their own collection.
type Itinerary struct {
	ID          string         `json:"id"`
	OwnerUserID string         `json:"owner_user_id"`
	Title       string         `json:"title"`
	Destination string         `json:"destination"`
	StartDate   string         `json:"start_date,omitempty"`
	Days        []ItineraryDay `json:"days"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Version     int64          `json:"version"`
}

// Validate checks the fields the assistant or a caller must always supply.
func (it *Itinerary) Validate() error {
	if strings.TrimSpace(it.Title) == "" {
		return fmt.Errorf("itinerary title is required")
	}
	if strings.TrimSpace(it.Destination) == "" {
		return fmt.Errorf("itinerary destination is required")
	}
	if len(it.Days) == 0 {
		return fmt.Errorf("itinerary must contain at least one day")
	}
	for _, d := range it.Days {
		if d.Day < 1 {
			return fmt.Errorf("day numbers start at 1, got %d", d.Day)
		}
		for _, s := range d.Stops {
			if strings.TrimSpace(s.Name) == "" {
				return fmt.Errorf("day %d has a stop without a name", d.Day)
			}
		}
	}
	return nil
}
