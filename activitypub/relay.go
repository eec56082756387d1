package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/deemkeen/mammut/domain"
)

const relayCacheTTL = 10 * time.Minute

// DeliverToRelays fans a public activity out to every accepted relay
// inbox. The activity must already be rendered and contextualized; it is
// deep-copied before any defaults are injected, so the caller's copy is
// never mutated.
func (f *Federation) DeliverToRelays(ctx context.Context, actor *domain.Account, activity map[string]interface{}) error {
	if !actor.IsLocal() {
		return ErrRemoteActor
	}

	relays, err := f.relays.Accepted()
	if err != nil {
		return fmt.Errorf("failed to list relays: %w", err)
	}
	if len(relays) == 0 {
		return nil
	}

	copied, err := deepCopyActivity(activity)
	if err != nil {
		return err
	}

	if _, ok := copied["to"]; !ok {
		copied["to"] = []interface{}{ActivityStreamsContext + "#Public"}
	}

	if err := AttachLDSignature(copied, f.KeyId(actor.Username), actor.PrivateKeyPem); err != nil {
		return fmt.Errorf("failed to attach LD signature: %w", err)
	}

	// Relays are a fixed, small, independently tracked list; the follower
	// fan-out machinery is bypassed and jobs go straight to each inbox.
	inboxes := make(map[string]bool, len(relays))
	for _, relay := range relays {
		inboxes[relay.InboxURI] = false
	}

	log.Printf("Relay: Forwarding activity to %d relays", len(inboxes))
	return f.enqueueJobs(actor.Id, copied, inboxes)
}

// deepCopyActivity clones an activity through a JSON round-trip.
func deepCopyActivity(activity map[string]interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(activity)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity: %w", err)
	}
	var copied map[string]interface{}
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, fmt.Errorf("failed to copy activity: %w", err)
	}
	return copied, nil
}

// relayCache is a time-boxed cache over the relay store.
type relayCache struct {
	mu        sync.RWMutex
	store     RelayStore
	ttl       time.Duration
	relays    []domain.Relay
	fetchedAt time.Time
}

func newRelayCache(store RelayStore, ttl time.Duration) *relayCache {
	return &relayCache{store: store, ttl: ttl}
}

// Accepted returns the cached accepted relay list, refreshing it when the
// TTL has expired.
func (c *relayCache) Accepted() ([]domain.Relay, error) {
	c.mu.RLock()
	fresh := time.Since(c.fetchedAt) < c.ttl
	relays := c.relays
	c.mu.RUnlock()

	if fresh {
		return relays, nil
	}

	if err := c.Refresh(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	relays = c.relays
	c.mu.RUnlock()
	return relays, nil
}

// Refresh reloads the relay list from the store.
func (c *relayCache) Refresh() error {
	err, relays := c.store.ReadAcceptedRelays()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.relays = *relays
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}
