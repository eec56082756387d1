package domain

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

type SaveNote struct {
	UserId  uuid.UUID
	Message string
}

type Note struct {
	Id        uuid.UUID
	CreatedBy string
	Message   string
	CreatedAt time.Time
	// ActivityPub fields
	Visibility   string // "public", "unlisted", "followers", "direct"
	InReplyToURI string // URI of the note this is replying to
	Federated    bool   // Whether to federate this note
	HasPoll      bool   // True when a poll row exists for this note
}

// Poll represents the poll attached to a question note
type Poll struct {
	NoteId    uuid.UUID
	Choices   []string
	Votes     []int
	Multiple  bool
	ExpiresAt *time.Time
}

func (note *Note) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tCreatedBy: %s \n\tMessage: %s \n\tCreatedAt: %s)", note.Id, note.CreatedBy, note.Message, note.CreatedAt)
}
