package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context           interface{} `json:"@context"`
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Name              string      `json:"name"`
	Summary           string      `json:"summary"`
	Inbox             string      `json:"inbox"`
	Outbox            string      `json:"outbox"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
}

// FetchRemoteActor resolves a remote actor URI and stores the result in
// the local cache. The fetch goes through the Resolver so host blocks and
// cycle protection apply.
func (f *Federation) FetchRemoteActor(ctx context.Context, actorURI string) (*domain.RemoteAccount, error) {
	object, err := f.NewResolver().Resolve(ctx, actorURI)
	if err != nil {
		return nil, fmt.Errorf("actor fetch failed: %w", err)
	}

	var actor ActorResponse
	if err := remarshal(object, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	// Validate required fields
	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}

	domainName, err := extractDomain(actor.ID)
	if err != nil {
		return nil, err
	}

	remoteAcc := &domain.RemoteAccount{
		Id:             uuid.New(),
		Username:       actor.PreferredUsername,
		Domain:         domainName,
		ActorURI:       actor.ID,
		DisplayName:    actor.Name,
		Summary:        actor.Summary,
		InboxURI:       actor.Inbox,
		SharedInboxURI: actor.Endpoints.SharedInbox,
		OutboxURI:      actor.Outbox,
		PublicKeyPem:   actor.PublicKey.PublicKeyPem,
		LastFetchedAt:  time.Now(),
	}

	if err := f.Local.CreateRemoteAccount(remoteAcc); err != nil {
		// Already cached: keep the existing row id and update in place
		if err, existing := f.Local.ReadRemoteAccountByActorURI(actor.ID); err == nil && existing != nil {
			remoteAcc.Id = existing.Id
		}
		if err := f.Local.UpdateRemoteAccount(remoteAcc); err != nil {
			return nil, fmt.Errorf("failed to store remote account: %w", err)
		}
	}

	// Keep the peer record in step with actor fetches.
	if err, _ := f.Peers.ReadOrCreatePeer(domainName); err == nil {
		f.Peers.TouchPeer(domainName, time.Now())
	}

	return remoteAcc, nil
}

// GetOrFetchActor returns actor from cache or fetches if not cached/stale
func (f *Federation) GetOrFetchActor(ctx context.Context, actorURI string) (*domain.RemoteAccount, error) {
	err, cached := f.Local.ReadRemoteAccountByActorURI(actorURI)
	if err == nil && cached != nil {
		// Check if cache is fresh (< 24 hours)
		if time.Since(cached.LastFetchedAt) < 24*time.Hour {
			return cached, nil
		}
	}

	return f.FetchRemoteActor(ctx, actorURI)
}

// remarshal converts a generic JSON object into a typed struct.
func remarshal(in interface{}, out interface{}) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// extractDomain extracts the domain from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}

	return parsed.Host, nil
}
