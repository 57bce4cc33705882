package domain

import (
	"testing"
	"time"
)

func TestOwner_Validate(t *testing.T) {
	tests := []struct {
		name    string
		owner   Owner
		wantErr bool
	}{
		{"guest ok", GuestOwner("g-1"), false},
		{"user ok", UserOwner("u-1"), false},
		{"guest missing id", Owner{Kind: OwnerKindGuest}, true},
		{"user missing id", Owner{Kind: OwnerKindUser}, true},
		{"guest with user id too", Owner{Kind: OwnerKindGuest, GuestID: "g", UserID: "u"}, true},
		{"user with guest id too", Owner{Kind: OwnerKindUser, UserID: "u", GuestID: "g"}, true},
		{"unknown kind", Owner{Kind: "bot", UserID: "u"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.owner.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOwner_Key(t *testing.T) {
	if got := GuestOwner("abc").Key(); got != "guest:abc" {
		t.Errorf("Key() = %q, want guest:abc", got)
	}
	if got := UserOwner("u-9").Key(); got != "user:u-9" {
		t.Errorf("Key() = %q, want user:u-9", got)
	}
}

func TestAttachment_Validate(t *testing.T) {
	tests := []struct {
		name    string
		att     Attachment
		wantErr bool
	}{
		{"image ok", Attachment{Kind: AttachmentImage, URL: "https://cdn.example.com/p.jpg"}, false},
		{"link ok", Attachment{Kind: AttachmentLink, URL: "http://example.com"}, false},
		{"pdf ok", Attachment{Kind: AttachmentPDF, URL: "https://example.com/doc.pdf"}, false},
		{"location ok", Attachment{Kind: AttachmentLocation, URL: "https://maps.example.com/?q=1,2"}, false},
		{"unknown kind", Attachment{Kind: "video", URL: "https://example.com/v.mp4"}, true},
		{"javascript scheme", Attachment{Kind: AttachmentLink, URL: "javascript:alert(1)"}, true},
		{"file scheme", Attachment{Kind: AttachmentPDF, URL: "file:///etc/passwd"}, true},
		{"relative url", Attachment{Kind: AttachmentLink, URL: "/local/path"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.att.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSessionContext_Validate(t *testing.T) {
	ok := SessionContext{ActiveTools: []string{"flights", "hotels"}, CurrentItineraryRef: "itin-1"}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	empty := SessionContext{ActiveTools: []string{""}}
	if err := empty.Validate(); err == nil {
		t.Error("Validate() accepted empty tool name")
	}

	many := SessionContext{ActiveTools: make([]string, 17)}
	for i := range many.ActiveTools {
		many.ActiveTools[i] = "tool"
	}
	if err := many.Validate(); err == nil {
		t.Error("Validate() accepted 17 tools")
	}
}

func TestChatSession_Clone(t *testing.T) {
	orig := &ChatSession{
		ID:    "s-1",
		Owner: UserOwner("u-1"),
		Messages: []ChatMessage{
			{
				ID:          "m-1",
				Role:        RoleUser,
				Content:     "hello",
				Timestamp:   time.Now(),
				Attachments: []Attachment{{Kind: AttachmentLink, URL: "https://example.com"}},
				Metadata:    map[string]string{"source": "web"},
			},
		},
		Context: SessionContext{
			ConversationMemory: []string{"user: hello"},
			ActiveTools:        []string{"flights"},
		},
		Status: SessionActive,
	}

	clone := orig.Clone()

	clone.Messages[0].Content = "changed"
	clone.Messages[0].Metadata["source"] = "changed"
	clone.Messages[0].Attachments[0].URL = "https://changed.example.com"
	clone.Context.ConversationMemory[0] = "changed"
	clone.Context.ActiveTools[0] = "changed"

	if orig.Messages[0].Content != "hello" {
		t.Error("Clone() shares message backing array")
	}
	if orig.Messages[0].Metadata["source"] != "web" {
		t.Error("Clone() shares metadata map")
	}
	if orig.Messages[0].Attachments[0].URL != "https://example.com" {
		t.Error("Clone() shares attachment slice")
	}
	if orig.Context.ConversationMemory[0] != "user: hello" {
		t.Error("Clone() shares conversation memory")
	}
	if orig.Context.ActiveTools[0] != "flights" {
		t.Error("Clone() shares active tools")
	}
}

func TestChatSession_Open(t *testing.T) {
	s := &ChatSession{Status: SessionActive}
	if !s.Open() {
		t.Error("Open() = false for active session")
	}
	s.Status = SessionArchived
	if s.Open() {
		t.Error("Open() = true for archived session")
	}
	s.Status = SessionDeleted
	if s.Open() {
		t.Error("Open() = true for deleted session")
	}
}
