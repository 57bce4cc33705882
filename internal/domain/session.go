package domain

import (
	"fmt"
	"net/url"
	"time"
)

// OwnerKind discriminates who a chat session belongs to.
type OwnerKind string

const (
	// OwnerKindGuest marks a session held by an anonymous visitor.
	OwnerKindGuest OwnerKind = "guest"

	// OwnerKindUser marks a session held by an authenticated user.
	OwnerKindUser OwnerKind = "user"
)

// Owner identifies the holder of a session. Exactly one of GuestID and
// UserID is set, matching Kind.
type Owner struct {
	Kind    OwnerKind `json:"kind"`
	GuestID string    `json:"guest_id,omitempty"`
	UserID  string    `json:"user_id,omitempty"`
}

// GuestOwner returns an Owner for an anonymous visitor.
func GuestOwner(guestID string) Owner {
	return Owner{Kind: OwnerKindGuest, GuestID: guestID}
}

// UserOwner returns an Owner for an authenticated user.
func UserOwner(userID string) Owner {
	return Owner{Kind: OwnerKindUser, UserID: userID}
}

// Validate checks the one-of invariant.
func (o Owner) Validate() error {
	switch o.Kind {
	case OwnerKindGuest:
		if o.GuestID == "" || o.UserID != "" {
			return fmt.Errorf("guest owner must set guest_id only")
		}
	case OwnerKindUser:
		if o.UserID == "" || o.GuestID != "" {
			return fmt.Errorf("user owner must set user_id only")
		}
	default:
		return fmt.Errorf("unknown owner kind %q", o.Kind)
	}
	return nil
}

// Key returns the identity key used for per-owner lookups and rate limiting.
func (o Owner) Key() string {
	if o.Kind == OwnerKindGuest {
		return "guest:" + o.GuestID
	}
	return "user:" + o.UserID
}

// SessionStatus is the lifecycle state of a chat session.
type SessionStatus string

const (
	// SessionActive accepts appends.
	SessionActive SessionStatus = "active"

	// SessionArchived is readable but closed to appends.
	SessionArchived SessionStatus = "archived"

	// SessionDeleted is soft-deleted. Records are retained as tombstones,
	// never destroyed by the application.
	SessionDeleted SessionStatus = "deleted"
)

// MessageRole is the author of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ValidRole reports whether r is one of the known message roles.
func ValidRole(r MessageRole) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// AttachmentKind is the media type of a message attachment.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentLink     AttachmentKind = "link"
	AttachmentPDF      AttachmentKind = "pdf"
	AttachmentLocation AttachmentKind = "location"
)

// Attachment is a typed reference carried by a chat message. The URL is
// validated at the boundary; the service never fetches it on the chat path.
type Attachment struct {
	Kind AttachmentKind `json:"kind"`
	URL  string         `json:"url"`
	Name string         `json:"name,omitempty"`
}

// Validate checks the attachment kind and that the URL is absolute http(s).
func (a Attachment) Validate() error {
	switch a.Kind {
	case AttachmentImage, AttachmentLink, AttachmentPDF, AttachmentLocation:
	default:
		return fmt.Errorf("unknown attachment kind %q", a.Kind)
	}
	u, err := url.Parse(a.URL)
	if err != nil {
		return fmt.Errorf("attachment url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("attachment url scheme %q not allowed", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("attachment url must be absolute")
	}
	return nil
}

// ChatMessage is a single turn in a session. Messages are immutable once
// appended; there is no edit or delete operation.
type ChatMessage struct {
	ID          string            `json:"id"`
	Role        MessageRole       `json:"role"`
	Content     string            `json:"content"`
	Timestamp   time.Time         `json:"timestamp"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SessionContext is the typed assistant context carried by a session.
// It replaces the open metadata maps callers used to send; anything not
// expressible here is rejected at the boundary.
type SessionContext struct {
	// ConversationMemory is the rolling window of formatted turns fed to
	// the model, oldest first. Bounded by the configured window size.
	ConversationMemory []string `json:"conversation_memory"`

	// ActiveTools names the assistant tools enabled for this session.
	ActiveTools []string `json:"active_tools,omitempty"`

	// CurrentItineraryRef is the id of the itinerary the conversation is
	// editing, when there is one.
	CurrentItineraryRef string `json:"current_itinerary_ref,omitempty"`
}

// Validate rejects context values the assistant layer does not understand.
func (c SessionContext) Validate() error {
	if len(c.ActiveTools) > 16 {
		return fmt.Errorf("too many active tools (%d)", len(c.ActiveTools))
	}
	for _, t := range c.ActiveTools {
		if t == "" || len(t) > 64 {
			return fmt.Errorf("invalid tool name %q", t)
		}
	}
	if len(c.CurrentItineraryRef) > 64 {
		return fmt.Errorf("itinerary ref too long")
	}
	return nil
}

// Clone returns a deep copy so conversions and handler responses never
// alias stored slices.
func (c SessionContext) Clone() SessionContext {
	out := SessionContext{CurrentItineraryRef: c.CurrentItineraryRef}
	if c.ConversationMemory != nil {
		out.ConversationMemory = append([]string(nil), c.ConversationMemory...)
	}
	if c.ActiveTools != nil {
		out.ActiveTools = append([]string(nil), c.ActiveTools...)
	}
	return out
}

// ChatSession is one conversation between an owner and the assistant.
type ChatSession struct {
	ID       string         `json:"id"`
	Owner    Owner          `json:"owner"`
	Title    string         `json:"title,omitempty"`
	Messages []ChatMessage  `json:"messages"`
	Context  SessionContext `json:"context"`
	Status   SessionStatus  `json:"status"`

	// ConvertedToSessionID is set on a guest session that was promoted to
	// a user session. The deleted guest record keeps pointing at its
	// successor so repeated conversion requests resolve to the same target.
	ConvertedToSessionID string `json:"converted_to_session_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version increments on every store write; concurrent writers detect
	// each other through it.
	Version int64 `json:"version"`
}

// Open reports whether the session accepts new messages.
func (s *ChatSession) Open() bool {
	return s.Status == SessionActive
}

// Clone returns a deep copy of the session.
func (s *ChatSession) Clone() *ChatSession {
	out := *s
	out.Context = s.Context.Clone()
	if s.Messages != nil {
		out.Messages = make([]ChatMessage, len(s.Messages))
		copy(out.Messages, s.Messages)
		for i, m := range s.Messages {
			if m.Attachments != nil {
				out.Messages[i].Attachments = append([]Attachment(nil), m.Attachments...)
			}
			if m.Metadata != nil {
				md := make(map[string]string, len(m.Metadata))
				for k, v := range m.Metadata {
					md[k] = v
				}
				out.Messages[i].Metadata = md
			}
		}
	}
	return &out
}
