package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

func acceptedRelay(inboxURI string) domain.Relay {
	return domain.Relay{
		Id:        uuid.New(),
		InboxURI:  inboxURI,
		Accepted:  true,
		CreatedAt: time.Now(),
	}
}

func TestDeliverToRelaysRejectsRemoteActor(t *testing.T) {
	fed, _ := newTestFederation(t)
	remote := &domain.Account{Id: uuid.New(), Username: "bob", Host: "remote.example"}

	err := fed.DeliverToRelays(context.Background(), remote, map[string]interface{}{"type": "Create"})
	if !errors.Is(err, ErrRemoteActor) {
		t.Errorf("Expected ErrRemoteActor, got %v", err)
	}
}

func TestDeliverToRelaysNoRelays(t *testing.T) {
	fed, stores := newTestFederation(t)
	actor := testLocalAccount(t, stores, "alice")

	if err := fed.DeliverToRelays(context.Background(), actor, map[string]interface{}{"type": "Create"}); err != nil {
		t.Fatalf("DeliverToRelays failed: %v", err)
	}
	if len(stores.jobs) != 0 {
		t.Errorf("Expected no jobs without relays, got %d", len(stores.jobs))
	}
}

func TestDeliverToRelaysQueuesPerRelay(t *testing.T) {
	fed, stores := newTestFederation(t)
	actor := testLocalAccount(t, stores, "alice")
	stores.relays = []domain.Relay{
		acceptedRelay("https://relay1.example/inbox"),
		acceptedRelay("https://relay2.example/inbox"),
	}

	activity := map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       "https://example.com/notes/1/activity",
		"type":     "Create",
		"actor":    "https://example.com/users/alice",
	}

	if err := fed.DeliverToRelays(context.Background(), actor, activity); err != nil {
		t.Fatalf("DeliverToRelays failed: %v", err)
	}

	if len(stores.jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(stores.jobs))
	}

	inboxes := map[string]bool{}
	for _, job := range stores.jobs {
		inboxes[job.InboxURI] = true
		if job.SharedInbox {
			t.Error("Relay jobs must not be flagged as shared inbox")
		}

		var forwarded map[string]interface{}
		if err := json.Unmarshal([]byte(job.ActivityJSON), &forwarded); err != nil {
			t.Fatalf("Queued activity is not valid JSON: %v", err)
		}
		if _, ok := forwarded["signature"]; !ok {
			t.Error("Forwarded activity must carry a document signature")
		}
		to, ok := forwarded["to"].([]interface{})
		if !ok || len(to) == 0 || to[0] != ActivityStreamsContext+"#Public" {
			t.Errorf("Forwarded activity must be addressed to public, got %v", forwarded["to"])
		}
	}
	if !inboxes["https://relay1.example/inbox"] || !inboxes["https://relay2.example/inbox"] {
		t.Errorf("Expected a job per relay inbox, got %v", inboxes)
	}
}

// The caller's activity map must not be touched: no injected addressing,
// no embedded signature.
func TestDeliverToRelaysDoesNotMutateCaller(t *testing.T) {
	fed, stores := newTestFederation(t)
	actor := testLocalAccount(t, stores, "alice")
	stores.relays = []domain.Relay{acceptedRelay("https://relay1.example/inbox")}

	activity := map[string]interface{}{
		"@context": ActivityStreamsContext,
		"type":     "Create",
	}

	if err := fed.DeliverToRelays(context.Background(), actor, activity); err != nil {
		t.Fatalf("DeliverToRelays failed: %v", err)
	}

	if _, ok := activity["signature"]; ok {
		t.Error("Caller's activity gained a signature")
	}
	if _, ok := activity["to"]; ok {
		t.Error("Caller's activity gained addressing")
	}
}

func TestDeliverToRelaysKeepsExistingAddressing(t *testing.T) {
	fed, stores := newTestFederation(t)
	actor := testLocalAccount(t, stores, "alice")
	stores.relays = []domain.Relay{acceptedRelay("https://relay1.example/inbox")}

	activity := map[string]interface{}{
		"@context": ActivityStreamsContext,
		"type":     "Create",
		"to":       []interface{}{"https://example.com/users/alice/followers"},
	}

	if err := fed.DeliverToRelays(context.Background(), actor, activity); err != nil {
		t.Fatalf("DeliverToRelays failed: %v", err)
	}

	var forwarded map[string]interface{}
	if err := json.Unmarshal([]byte(stores.jobs[0].ActivityJSON), &forwarded); err != nil {
		t.Fatalf("Queued activity is not valid JSON: %v", err)
	}
	to, _ := forwarded["to"].([]interface{})
	if len(to) != 1 || to[0] != "https://example.com/users/alice/followers" {
		t.Errorf("Existing addressing must be preserved, got %v", forwarded["to"])
	}
}

func TestDeepCopyActivity(t *testing.T) {
	original := map[string]interface{}{
		"type":   "Create",
		"object": map[string]interface{}{"type": "Note", "content": "hello"},
	}

	copied, err := deepCopyActivity(original)
	if err != nil {
		t.Fatalf("deepCopyActivity failed: %v", err)
	}

	copied["type"] = "Announce"
	copied["object"].(map[string]interface{})["content"] = "changed"

	if original["type"] != "Create" {
		t.Error("Copy mutation leaked into the original top level")
	}
	if original["object"].(map[string]interface{})["content"] != "hello" {
		t.Error("Copy mutation leaked into a nested object")
	}
}
