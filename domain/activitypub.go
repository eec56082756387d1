package domain

import (
	"github.com/google/uuid"
	"time"
)

// RemoteAccount represents a cached federated user
type RemoteAccount struct {
	Id             uuid.UUID
	Username       string
	Domain         string
	ActorURI       string
	DisplayName    string
	Summary        string
	InboxURI       string
	SharedInboxURI string // instance-wide inbox, preferred for fan-out dedup
	OutboxURI      string
	PublicKeyPem   string
	LastFetchedAt  time.Time
}

// Follow represents a follow relationship
type Follow struct {
	Id              uuid.UUID
	AccountId       uuid.UUID // Can be local or remote account
	TargetAccountId uuid.UUID // Can be local or remote account
	URI             string    // ActivityPub Follow activity URI (empty for local follows)
	CreatedAt       time.Time
	Accepted        bool
	IsLocal         bool // true if this is a local-only follow
}

// Like represents a like/favorite on a note
type Like struct {
	Id        uuid.UUID
	AccountId uuid.UUID // Who liked (can be local or remote)
	NoteId    uuid.UUID // Which note was liked
	URI       string    // ActivityPub Like activity URI
	CreatedAt time.Time
}

// Activity represents an ActivityPub activity (for logging/deduplication)
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string // Follow, Create, Like, Announce, Undo, etc.
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	CreatedAt    time.Time
	Local        bool // true if originated from this server
}

// DeliveryJob represents one queued unit of work: one activity to one inbox.
// Only the actor id is carried, not the whole account, to keep the queue
// payload small.
type DeliveryJob struct {
	Id           uuid.UUID
	ActorId      uuid.UUID
	InboxURI     string
	SharedInbox  bool // true when InboxURI is an instance-wide shared inbox
	ActivityJSON string
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

// Peer represents the health record of a remote server
type Peer struct {
	Host          string
	Suspended     bool // blocks all future delivery attempts
	NotResponding bool // soft health flag, updated on every attempt
	LastFetchedAt time.Time
}

// Relay represents a subscription to a federation relay
type Relay struct {
	Id        uuid.UUID
	InboxURI  string
	Accepted  bool
	CreatedAt time.Time
}
