package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// ErrRemoteActor is returned when a delivery is attempted on behalf of an
// account that does not belong to this instance. Only local actors hold a
// private key we can sign with.
var ErrRemoteActor = errors.New("delivery requires a local actor")

type recipeKind uint

const (
	recipeFollowers recipeKind = iota
	recipeDirect
)

type recipe struct {
	kind recipeKind
	to   *domain.RemoteAccount
}

// DeliverManager resolves an abstract delivery intent into a deduplicated
// set of destination inboxes and enqueues one job per inbox. Create one
// per outgoing activity; it is not reusable.
type DeliverManager struct {
	fed      *Federation
	actorId  uuid.UUID
	actorRef *domain.Account
	activity interface{}
	recipes  []recipe
}

// NewDeliverManager prepares a delivery of activity on behalf of actor.
// The actor is reduced to its id before anything is queued, keeping job
// payloads small.
func (f *Federation) NewDeliverManager(actor *domain.Account, activity interface{}) (*DeliverManager, error) {
	if !actor.IsLocal() {
		return nil, ErrRemoteActor
	}
	return &DeliverManager{
		fed:      f,
		actorId:  actor.Id,
		actorRef: actor,
		activity: activity,
	}, nil
}

// AddFollowersRecipe adds all remote followers of the actor to the
// delivery intent.
func (m *DeliverManager) AddFollowersRecipe() {
	m.recipes = append(m.recipes, recipe{kind: recipeFollowers})
}

// AddDirectRecipe adds a single remote recipient to the delivery intent.
func (m *DeliverManager) AddDirectRecipe(to *domain.RemoteAccount) {
	m.recipes = append(m.recipes, recipe{kind: recipeDirect, to: to})
}

// Execute resolves the recipes into inboxes and enqueues one delivery job
// per inbox. Followers recipes are resolved first so that later direct
// recipes collapse into already-known shared inboxes.
func (m *DeliverManager) Execute(ctx context.Context) error {
	// inbox URI -> whether it is a shared inbox
	inboxes := make(map[string]bool)

	hasFollowers := false
	for _, rcp := range m.recipes {
		if rcp.kind == recipeFollowers {
			hasFollowers = true
			break
		}
	}

	if hasFollowers {
		err, followers := m.fed.Followers.ReadRemoteFollowers(m.actorId)
		if err != nil {
			return fmt.Errorf("failed to get remote followers: %w", err)
		}
		for _, follower := range *followers {
			if follower.SharedInboxURI != "" {
				inboxes[follower.SharedInboxURI] = true
			} else if follower.InboxURI != "" {
				inboxes[follower.InboxURI] = false
			} else {
				return fmt.Errorf("follower %s has no inbox", follower.ActorURI)
			}
		}
	}

	for _, rcp := range m.recipes {
		if rcp.kind != recipeDirect {
			continue
		}
		// Already covered by the followers fan-out or an earlier direct
		// recipe through the shared inbox.
		if rcp.to.SharedInboxURI != "" {
			if _, ok := inboxes[rcp.to.SharedInboxURI]; ok {
				continue
			}
		}
		if rcp.to.InboxURI != "" {
			inboxes[rcp.to.InboxURI] = false
		}
	}

	return m.fed.enqueueJobs(m.actorId, m.activity, inboxes)
}

// enqueueJobs creates one delivery job per resolved inbox.
func (f *Federation) enqueueJobs(actorId uuid.UUID, activity interface{}, inboxes map[string]bool) error {
	if len(inboxes) == 0 {
		return nil
	}

	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	now := time.Now()
	queued := 0
	for inbox, shared := range inboxes {
		job := &domain.DeliveryJob{
			Id:           uuid.New(),
			ActorId:      actorId,
			InboxURI:     inbox,
			SharedInbox:  shared,
			ActivityJSON: string(activityJSON),
			Attempts:     0,
			NextRetryAt:  now,
			CreatedAt:    now,
		}
		if err := f.Queue.EnqueueDelivery(job); err != nil {
			log.Printf("Deliver: Failed to queue delivery to %s: %v", inbox, err)
			continue
		}
		queued++
	}
	if queued == 0 {
		return fmt.Errorf("failed to queue activity for any of %d inboxes", len(inboxes))
	}

	log.Printf("Deliver: Queued activity to %d inboxes", queued)
	return nil
}

// DeliverToFollowers queues an activity for all remote followers of actor.
func (f *Federation) DeliverToFollowers(ctx context.Context, actor *domain.Account, activity interface{}) error {
	manager, err := f.NewDeliverManager(actor, activity)
	if err != nil {
		return err
	}
	manager.AddFollowersRecipe()
	return manager.Execute(ctx)
}

// DeliverToUser queues an activity for one specific remote user.
func (f *Federation) DeliverToUser(ctx context.Context, actor *domain.Account, activity interface{}, to *domain.RemoteAccount) error {
	manager, err := f.NewDeliverManager(actor, activity)
	if err != nil {
		return err
	}
	manager.AddDirectRecipe(to)
	return manager.Execute(ctx)
}
