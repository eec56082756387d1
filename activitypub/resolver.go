package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// InstanceActorName is the reserved account used to sign fetches when the
// instance is configured to always sign outbound GETs.
const InstanceActorName = "instance.actor"

const defaultRecursionLimit = 100

var (
	ErrFragmentURI     = errors.New("cannot resolve a URI with a fragment")
	ErrResolutionCycle = errors.New("cannot resolve an already resolved URI")
	ErrRecursionLimit  = errors.New("resolution recursion limit exceeded")
	ErrHostBlocked     = errors.New("instance is blocked")
	ErrInvalidContext  = errors.New("response has invalid @context")
	ErrUnhandledLocal  = errors.New("unhandled local object type")
	ErrNotACollection  = errors.New("resolved object is not a collection")
)

// Resolver dereferences remote or local URIs into protocol objects. It
// keeps a per-instance history of visited URIs as a cycle guard, so one
// Resolver must be used per resolution tree and never shared across
// concurrent resolutions.
type Resolver struct {
	fed            *Federation
	history        map[string]struct{}
	recursionLimit int
	instanceActor  *domain.Account
}

// NewResolver creates a Resolver with a fresh history.
func (f *Federation) NewResolver() *Resolver {
	return &Resolver{
		fed:            f,
		history:        make(map[string]struct{}),
		recursionLimit: defaultRecursionLimit,
	}
}

// Resolve turns a URI or an inline object into a parsed protocol object.
// Inline objects are returned unchanged without touching the history.
func (r *Resolver) Resolve(ctx context.Context, value interface{}) (map[string]interface{}, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		return v, nil
	case string:
		return r.resolveURI(ctx, v)
	default:
		return nil, fmt.Errorf("cannot resolve value of type %T", value)
	}
}

// ResolveCollection resolves value and asserts the result is a Collection
// or OrderedCollection.
func (r *Resolver) ResolveCollection(ctx context.Context, value interface{}) (map[string]interface{}, error) {
	object, err := r.Resolve(ctx, value)
	if err != nil {
		return nil, err
	}
	typ, _ := object["type"].(string)
	if typ != "Collection" && typ != "OrderedCollection" {
		return nil, ErrNotACollection
	}
	return object, nil
}

func (r *Resolver) resolveURI(ctx context.Context, uri string) (map[string]interface{}, error) {
	// Fragments are not transmitted over HTTP; such a URI can never be
	// fetched correctly.
	if strings.Contains(uri, "#") {
		return nil, ErrFragmentURI
	}

	if _, seen := r.history[uri]; seen {
		return nil, ErrResolutionCycle
	}

	if len(r.history) > r.recursionLimit {
		return nil, ErrRecursionLimit
	}

	r.history[uri] = struct{}{}

	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid URI: %w", err)
	}
	host := strings.ToLower(parsed.Hostname())

	if host == strings.ToLower(r.fed.Conf.Conf.SslDomain) {
		return r.resolveLocal(parsed)
	}

	if r.fed.HostBlocked(host) {
		return nil, fmt.Errorf("cannot resolve %s: %w", uri, ErrHostBlocked)
	}

	var object map[string]interface{}
	if r.fed.Conf.Conf.SignGetRequests {
		actor, err := r.getInstanceActor()
		if err != nil {
			return nil, err
		}
		object, err = r.fed.SignedGet(ctx, uri, actor.Id)
		if err != nil {
			return nil, err
		}
	} else {
		object, err = r.fed.PlainGet(ctx, uri)
		if err != nil {
			return nil, err
		}
	}

	if !hasActivityStreamsContext(object) {
		return nil, ErrInvalidContext
	}

	return object, nil
}

// getInstanceActor fetches and caches the instance-level signing actor.
func (r *Resolver) getInstanceActor() (*domain.Account, error) {
	if r.instanceActor != nil {
		return r.instanceActor, nil
	}
	err, acc := r.fed.Accounts.ReadAccByUsername(InstanceActorName)
	if err != nil {
		return nil, fmt.Errorf("failed to get instance actor: %w", err)
	}
	r.instanceActor = acc
	return acc, nil
}

// hasActivityStreamsContext checks that the @context of a fetched object
// includes the ActivityStreams namespace, in scalar or array form.
func hasActivityStreamsContext(object map[string]interface{}) bool {
	switch c := object["@context"].(type) {
	case string:
		return c == ActivityStreamsContext
	case []interface{}:
		for _, entry := range c {
			if s, ok := entry.(string); ok && s == ActivityStreamsContext {
				return true
			}
		}
	}
	return false
}

// localKind enumerates the URI shapes this instance can resolve without a
// network round-trip.
type localKind uint

const (
	localNote localKind = iota
	localNoteActivity
	localUser
	localQuestion
	localLike
	localFollow
)

type localRef struct {
	kind     localKind
	id       uuid.UUID
	username string
	follower uuid.UUID
	followee uuid.UUID
}

// parseLocalURI maps a local URL path onto a localRef. Unknown shapes fail
// closed.
func parseLocalURI(parsed *url.URL) (*localRef, error) {
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrUnhandledLocal, parsed.Path)
	}

	switch parts[0] {
	case "notes":
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid note id: %w", err)
		}
		if len(parts) == 2 {
			return &localRef{kind: localNote, id: id}, nil
		}
		if len(parts) == 3 && parts[2] == "activity" {
			return &localRef{kind: localNoteActivity, id: id}, nil
		}
	case "users":
		if len(parts) == 2 {
			return &localRef{kind: localUser, username: parts[1]}, nil
		}
	case "questions":
		if len(parts) == 2 {
			id, err := uuid.Parse(parts[1])
			if err != nil {
				return nil, fmt.Errorf("invalid question id: %w", err)
			}
			return &localRef{kind: localQuestion, id: id}, nil
		}
	case "likes":
		if len(parts) == 2 {
			id, err := uuid.Parse(parts[1])
			if err != nil {
				return nil, fmt.Errorf("invalid like id: %w", err)
			}
			return &localRef{kind: localLike, id: id}, nil
		}
	case "follows":
		// The suffix must be exactly <followerId>/<followeeId>; each id
		// must parse as a single token, no further path segments.
		if len(parts) == 3 {
			follower, err := uuid.Parse(parts[1])
			if err != nil {
				return nil, fmt.Errorf("invalid follower id: %w", err)
			}
			followee, err := uuid.Parse(parts[2])
			if err != nil {
				return nil, fmt.Errorf("invalid followee id: %w", err)
			}
			return &localRef{kind: localFollow, follower: follower, followee: followee}, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnhandledLocal, parsed.Path)
}

// resolveLocal produces an already-known object from the local stores.
// No network I/O happens here, even when the object does not exist.
func (r *Resolver) resolveLocal(parsed *url.URL) (map[string]interface{}, error) {
	ref, err := parseLocalURI(parsed)
	if err != nil {
		return nil, err
	}

	switch ref.kind {
	case localNote:
		err, note := r.fed.Local.ReadNoteId(ref.id)
		if err != nil {
			return nil, fmt.Errorf("failed to read note: %w", err)
		}
		return r.fed.RenderNote(note), nil

	case localNoteActivity:
		err, note := r.fed.Local.ReadNoteId(ref.id)
		if err != nil {
			return nil, fmt.Errorf("failed to read note: %w", err)
		}
		return r.fed.RenderCreate(note, r.fed.RenderNote(note)), nil

	case localUser:
		err, acc := r.fed.Accounts.ReadAccByUsername(ref.username)
		if err != nil {
			return nil, fmt.Errorf("failed to read account: %w", err)
		}
		return r.fed.RenderActor(acc), nil

	case localQuestion:
		err, note := r.fed.Local.ReadNoteId(ref.id)
		if err != nil {
			return nil, fmt.Errorf("failed to read note: %w", err)
		}
		err, poll := r.fed.Local.ReadPollByNoteId(ref.id)
		if err != nil {
			return nil, fmt.Errorf("failed to read poll: %w", err)
		}
		return r.fed.RenderQuestion(note, poll), nil

	case localLike:
		err, like := r.fed.Local.ReadLikeById(ref.id)
		if err != nil {
			return nil, fmt.Errorf("failed to read like: %w", err)
		}
		actorURI, err := r.accountURI(like.AccountId)
		if err != nil {
			return nil, err
		}
		return r.fed.RenderLike(like, actorURI), nil

	case localFollow:
		err, follow := r.fed.Local.ReadFollowByAccountIds(ref.follower, ref.followee)
		if err != nil {
			return nil, fmt.Errorf("failed to read follow: %w", err)
		}
		followerURI, err := r.accountURI(follow.AccountId)
		if err != nil {
			return nil, err
		}
		followeeURI, err := r.accountURI(follow.TargetAccountId)
		if err != nil {
			return nil, err
		}
		return r.fed.RenderFollow(follow, followerURI, followeeURI), nil
	}

	return nil, ErrUnhandledLocal
}

// accountURI maps an account id, local or remote, to its actor URI.
func (r *Resolver) accountURI(id uuid.UUID) (string, error) {
	if err, acc := r.fed.Accounts.ReadAccById(id); err == nil && acc != nil {
		return r.fed.ActorURI(acc.Username), nil
	}
	err, remote := r.fed.Local.ReadRemoteAccountById(id)
	if err != nil {
		return "", fmt.Errorf("unknown account %s: %w", id, err)
	}
	return remote.ActorURI, nil
}
