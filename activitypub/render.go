package activitypub

import (
	"fmt"
	"time"

	"github.com/deemkeen/mammut/domain"
)

const ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"

// RenderActor returns the ActivityPub representation of a local account.
func (f *Federation) RenderActor(acc *domain.Account) map[string]interface{} {
	actorURI := f.ActorURI(acc.Username)
	displayName := acc.DisplayName
	if displayName == "" {
		displayName = acc.Username
	}

	return map[string]interface{}{
		"@context": []interface{}{
			ActivityStreamsContext,
			"https://w3id.org/security/v1",
		},
		"id":                        actorURI,
		"type":                      "Person",
		"preferredUsername":         acc.Username,
		"name":                      displayName,
		"summary":                   acc.Summary,
		"inbox":                     actorURI + "/inbox",
		"outbox":                    actorURI + "/outbox",
		"followers":                 actorURI + "/followers",
		"following":                 actorURI + "/following",
		"url":                       actorURI,
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"endpoints": map[string]interface{}{
			"sharedInbox": fmt.Sprintf("https://%s/inbox", f.Conf.Conf.SslDomain),
		},
		"publicKey": map[string]interface{}{
			"id":           actorURI + "#main-key",
			"owner":        actorURI,
			"publicKeyPem": acc.PublicKeyPem,
		},
	}
}

// RenderNote returns the ActivityPub Note object for a local note.
func (f *Federation) RenderNote(note *domain.Note) map[string]interface{} {
	actorURI := f.ActorURI(note.CreatedBy)
	noteURI := fmt.Sprintf("https://%s/notes/%s", f.Conf.Conf.SslDomain, note.Id.String())

	object := map[string]interface{}{
		"@context":     ActivityStreamsContext,
		"id":           noteURI,
		"type":         "Note",
		"attributedTo": actorURI,
		"content":      note.Message,
		"published":    note.CreatedAt.Format(time.RFC3339),
		"to":           []string{ActivityStreamsContext + "#Public"},
		"cc":           []string{actorURI + "/followers"},
	}
	if note.InReplyToURI != "" {
		object["inReplyTo"] = note.InReplyToURI
	}
	return object
}

// RenderQuestion joins a note with its poll into a Question object.
func (f *Federation) RenderQuestion(note *domain.Note, poll *domain.Poll) map[string]interface{} {
	object := f.RenderNote(note)
	object["type"] = "Question"

	options := make([]interface{}, 0, len(poll.Choices))
	for i, choice := range poll.Choices {
		votes := 0
		if i < len(poll.Votes) {
			votes = poll.Votes[i]
		}
		options = append(options, map[string]interface{}{
			"type": "Note",
			"name": choice,
			"replies": map[string]interface{}{
				"type":       "Collection",
				"totalItems": votes,
			},
		})
	}

	if poll.Multiple {
		object["anyOf"] = options
	} else {
		object["oneOf"] = options
	}
	if poll.ExpiresAt != nil {
		object["endTime"] = poll.ExpiresAt.Format(time.RFC3339)
	}
	return object
}

// RenderCreate wraps a rendered note in its Create envelope. The envelope
// id is the note URI with the /activity suffix, so the activity can be
// dereferenced independently of the object.
func (f *Federation) RenderCreate(note *domain.Note, object map[string]interface{}) map[string]interface{} {
	noteURI := fmt.Sprintf("https://%s/notes/%s", f.Conf.Conf.SslDomain, note.Id.String())
	return map[string]interface{}{
		"@context":  ActivityStreamsContext,
		"id":        noteURI + "/activity",
		"type":      "Create",
		"actor":     f.ActorURI(note.CreatedBy),
		"published": note.CreatedAt.Format(time.RFC3339),
		"to":        object["to"],
		"cc":        object["cc"],
		"object":    object,
	}
}

// RenderLike returns the Like activity for a stored like. actorURI is the
// liker, which may be local or remote.
func (f *Federation) RenderLike(like *domain.Like, actorURI string) map[string]interface{} {
	return map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       fmt.Sprintf("https://%s/likes/%s", f.Conf.Conf.SslDomain, like.Id.String()),
		"type":     "Like",
		"actor":    actorURI,
		"object":   fmt.Sprintf("https://%s/notes/%s", f.Conf.Conf.SslDomain, like.NoteId.String()),
	}
}

// RenderFollow returns the Follow activity between two actors.
func (f *Federation) RenderFollow(follow *domain.Follow, followerURI string, followeeURI string) map[string]interface{} {
	id := follow.URI
	if id == "" {
		id = fmt.Sprintf("https://%s/follows/%s/%s", f.Conf.Conf.SslDomain, follow.AccountId, follow.TargetAccountId)
	}
	return map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       id,
		"type":     "Follow",
		"actor":    followerURI,
		"object":   followeeURI,
	}
}
