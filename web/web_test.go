package web

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
)

var errNotFound = errors.New("not found")

// webStores is a minimal in-memory store set for wiring a Federation in
// handler tests.
type webStores struct {
	accounts  map[string]*domain.Account
	remotes   map[string]*domain.RemoteAccount
	notes     map[uuid.UUID]*domain.Note
	polls     map[uuid.UUID]*domain.Poll
	followers []domain.RemoteAccount
}

func newWebStores() *webStores {
	return &webStores{
		accounts: make(map[string]*domain.Account),
		remotes:  make(map[string]*domain.RemoteAccount),
		notes:    make(map[uuid.UUID]*domain.Note),
		polls:    make(map[uuid.UUID]*domain.Poll),
	}
}

func (s *webStores) ReadAccById(id uuid.UUID) (error, *domain.Account) {
	for _, acc := range s.accounts {
		if acc.Id == id {
			return nil, acc
		}
	}
	return errNotFound, nil
}

func (s *webStores) ReadAccByUsername(username string) (error, *domain.Account) {
	if acc, ok := s.accounts[username]; ok {
		return nil, acc
	}
	return errNotFound, nil
}

func (s *webStores) ReadRemoteFollowers(accountId uuid.UUID) (error, *[]domain.RemoteAccount) {
	followers := s.followers
	return nil, &followers
}

func (s *webStores) ReadSuspendedPeers() (error, *[]domain.Peer) {
	peers := []domain.Peer{}
	return nil, &peers
}

func (s *webStores) ReadOrCreatePeer(host string) (error, *domain.Peer) {
	return nil, &domain.Peer{Host: host}
}

func (s *webStores) UpdatePeerHealth(host string, suspended *bool, notResponding *bool) error {
	return nil
}

func (s *webStores) TouchPeer(host string, fetchedAt time.Time) error {
	return nil
}

func (s *webStores) ReadAcceptedRelays() (error, *[]domain.Relay) {
	relays := []domain.Relay{}
	return nil, &relays
}

func (s *webStores) ReadNoteId(id uuid.UUID) (error, *domain.Note) {
	if note, ok := s.notes[id]; ok {
		return nil, note
	}
	return errNotFound, nil
}

func (s *webStores) ReadPollByNoteId(noteId uuid.UUID) (error, *domain.Poll) {
	if poll, ok := s.polls[noteId]; ok {
		return nil, poll
	}
	return errNotFound, nil
}

func (s *webStores) ReadLikeById(id uuid.UUID) (error, *domain.Like) {
	return errNotFound, nil
}

func (s *webStores) ReadFollowByAccountIds(accountId uuid.UUID, targetAccountId uuid.UUID) (error, *domain.Follow) {
	return errNotFound, nil
}

func (s *webStores) ReadRemoteAccountById(id uuid.UUID) (error, *domain.RemoteAccount) {
	for _, acc := range s.remotes {
		if acc.Id == id {
			return nil, acc
		}
	}
	return errNotFound, nil
}

func (s *webStores) ReadRemoteAccountByActorURI(uri string) (error, *domain.RemoteAccount) {
	if acc, ok := s.remotes[uri]; ok {
		return nil, acc
	}
	return errNotFound, nil
}

func (s *webStores) CreateRemoteAccount(acc *domain.RemoteAccount) error {
	s.remotes[acc.ActorURI] = acc
	return nil
}

func (s *webStores) UpdateRemoteAccount(acc *domain.RemoteAccount) error {
	s.remotes[acc.ActorURI] = acc
	return nil
}

func (s *webStores) EnqueueDelivery(job *domain.DeliveryJob) error { return nil }

func (s *webStores) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryJob) {
	jobs := []domain.DeliveryJob{}
	return nil, &jobs
}

func (s *webStores) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return nil
}

func (s *webStores) DeleteDelivery(id uuid.UUID) error { return nil }

func (s *webStores) DeliverySucceeded(host string) {}
func (s *webStores) DeliveryFailed(host string)    {}

func newWebFederation(t *testing.T) (*activitypub.Federation, *webStores) {
	t.Helper()
	conf := &util.AppConfig{}
	conf.Conf.Host = "localhost"
	conf.Conf.HttpPort = 8080
	conf.Conf.SslDomain = "example.com"
	conf.Conf.WithAp = true

	stores := newWebStores()
	fed := activitypub.NewFederation(conf, stores, stores, stores, stores, stores, stores, stores)
	return fed, stores
}

func addWebAccount(stores *webStores, username string) *domain.Account {
	acc := &domain.Account{
		Id:           uuid.New(),
		Username:     username,
		PublicKeyPem: "-----BEGIN PUBLIC KEY-----",
		CreatedAt:    time.Now(),
	}
	stores.accounts[username] = acc
	return acc
}

func TestGetWebfinger(t *testing.T) {
	fed, stores := newWebFederation(t)
	addWebAccount(stores, "alice")

	err, resp := GetWebfinger(fed, "alice")
	if err != nil {
		t.Fatalf("GetWebfinger failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(resp), &parsed); err != nil {
		t.Fatalf("Response is not valid JSON: %v", err)
	}

	if parsed["subject"] != "acct:alice@example.com" {
		t.Errorf("Unexpected subject: %v", parsed["subject"])
	}

	links, ok := parsed["links"].([]interface{})
	if !ok || len(links) != 1 {
		t.Fatalf("Expected one link, got %v", parsed["links"])
	}
	link := links[0].(map[string]interface{})
	if link["href"] != "https://example.com/users/alice" {
		t.Errorf("Unexpected href: %v", link["href"])
	}
}

func TestGetWebfingerUnknownUser(t *testing.T) {
	fed, _ := newWebFederation(t)

	err, resp := GetWebfinger(fed, "nobody")
	if err == nil {
		t.Error("Expected error for unknown user")
	}
	if resp != GetWebFingerNotFound() {
		t.Errorf("Expected not-found body, got %s", resp)
	}
}

func TestGetActor(t *testing.T) {
	fed, stores := newWebFederation(t)
	addWebAccount(stores, "alice")

	err, actor := GetActor(fed, "alice")
	if err != nil {
		t.Fatalf("GetActor failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(actor), &parsed); err != nil {
		t.Fatalf("Actor is not valid JSON: %v", err)
	}

	if parsed["id"] != "https://example.com/users/alice" {
		t.Errorf("Unexpected actor id: %v", parsed["id"])
	}
	if parsed["type"] != "Person" {
		t.Errorf("Unexpected type: %v", parsed["type"])
	}
}

func TestGetActorUnknownUser(t *testing.T) {
	fed, _ := newWebFederation(t)

	err, _ := GetActor(fed, "nobody")
	if err == nil {
		t.Error("Expected error for unknown user")
	}
}

func TestGetFollowersCollection(t *testing.T) {
	fed, stores := newWebFederation(t)
	addWebAccount(stores, "alice")
	stores.followers = []domain.RemoteAccount{
		{Id: uuid.New(), ActorURI: "https://remote.example/users/bob"},
		{Id: uuid.New(), ActorURI: "https://remote.example/users/carol"},
	}

	err, collection := GetFollowersCollection(fed, "alice")
	if err != nil {
		t.Fatalf("GetFollowersCollection failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(collection), &parsed); err != nil {
		t.Fatalf("Collection is not valid JSON: %v", err)
	}

	if parsed["type"] != "OrderedCollection" {
		t.Errorf("Unexpected type: %v", parsed["type"])
	}
	if parsed["totalItems"] != float64(2) {
		t.Errorf("Expected 2 followers, got %v", parsed["totalItems"])
	}
	// The member list stays private
	if _, ok := parsed["orderedItems"]; ok {
		t.Error("Followers collection must not expose members")
	}
}

func TestGetNoteObject(t *testing.T) {
	fed, stores := newWebFederation(t)
	addWebAccount(stores, "alice")

	note := &domain.Note{
		Id:         uuid.New(),
		CreatedBy:  "alice",
		Message:    "hello",
		CreatedAt:  time.Now(),
		Visibility: "public",
		Federated:  true,
	}
	stores.notes[note.Id] = note

	err, body := GetNoteObject(fed, note.Id)
	if err != nil {
		t.Fatalf("GetNoteObject failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		t.Fatalf("Note is not valid JSON: %v", err)
	}
	if parsed["type"] != "Note" {
		t.Errorf("Unexpected type: %v", parsed["type"])
	}
	if parsed["content"] != "hello" {
		t.Errorf("Unexpected content: %v", parsed["content"])
	}
}

func TestGetNoteObjectWithPoll(t *testing.T) {
	fed, stores := newWebFederation(t)
	addWebAccount(stores, "alice")

	note := &domain.Note{
		Id:         uuid.New(),
		CreatedBy:  "alice",
		Message:    "pick one",
		CreatedAt:  time.Now(),
		Visibility: "public",
		Federated:  true,
		HasPoll:    true,
	}
	stores.notes[note.Id] = note
	stores.polls[note.Id] = &domain.Poll{
		NoteId:  note.Id,
		Choices: []string{"yes", "no"},
		Votes:   []int{0, 0},
	}

	err, body := GetNoteObject(fed, note.Id)
	if err != nil {
		t.Fatalf("GetNoteObject failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		t.Fatalf("Note is not valid JSON: %v", err)
	}
	if parsed["type"] != "Question" {
		t.Errorf("Notes with polls render as Question, got %v", parsed["type"])
	}
	if _, ok := parsed["oneOf"]; !ok {
		t.Error("Expected oneOf options")
	}
}

func TestParsePageParam(t *testing.T) {
	tests := []struct {
		input    string
		expected int
	}{
		{"", 0},
		{"1", 1},
		{"42", 42},
		{"0", 0},
		{"-3", 0},
		{"abc", 0},
	}

	for _, tt := range tests {
		if got := ParsePageParam(tt.input); got != tt.expected {
			t.Errorf("ParsePageParam(%q) = %d, want %d", tt.input, got, tt.expected)
		}
	}
}

func TestResolveSharedInboxTargetFromTo(t *testing.T) {
	fed, _ := newWebFederation(t)

	body := []byte(`{
		"type": "Create",
		"actor": "https://remote.example/users/bob",
		"to": ["https://example.com/users/alice"],
		"cc": []
	}`)

	if got := resolveSharedInboxTarget(fed, body); got != "alice" {
		t.Errorf("Expected alice, got %q", got)
	}
}

func TestResolveSharedInboxTargetFromCc(t *testing.T) {
	fed, _ := newWebFederation(t)

	body := []byte(`{
		"type": "Create",
		"actor": "https://remote.example/users/bob",
		"to": ["https://www.w3.org/ns/activitystreams#Public"],
		"cc": ["https://example.com/users/alice/followers"]
	}`)

	if got := resolveSharedInboxTarget(fed, body); got != "alice" {
		t.Errorf("Expected alice, got %q", got)
	}
}

func TestResolveSharedInboxTargetFromObject(t *testing.T) {
	fed, _ := newWebFederation(t)

	body := []byte(`{
		"type": "Follow",
		"actor": "https://remote.example/users/bob",
		"object": "https://example.com/users/alice"
	}`)

	if got := resolveSharedInboxTarget(fed, body); got != "alice" {
		t.Errorf("Expected alice, got %q", got)
	}
}

func TestResolveSharedInboxTargetIgnoresForeignURIs(t *testing.T) {
	fed, _ := newWebFederation(t)

	body := []byte(`{
		"type": "Create",
		"actor": "https://remote.example/users/bob",
		"to": ["https://other.example/users/alice"],
		"cc": []
	}`)

	if got := resolveSharedInboxTarget(fed, body); got != "" {
		t.Errorf("Foreign actor URIs must not resolve, got %q", got)
	}
}

func TestResolveSharedInboxTargetInvalidJSON(t *testing.T) {
	fed, _ := newWebFederation(t)

	if got := resolveSharedInboxTarget(fed, []byte("not json")); got != "" {
		t.Errorf("Expected empty target, got %q", got)
	}
}
