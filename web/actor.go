package web

import (
	"encoding/json"

	"github.com/deemkeen/mammut/activitypub"
	"github.com/google/uuid"
)

// GetActor returns the ActivityPub actor document of a local account.
func GetActor(fed *activitypub.Federation, actor string) (error, string) {
	err, acc := fed.Accounts.ReadAccByUsername(actor)
	if err != nil {
		return err, "{}"
	}

	jsonBytes, err := json.Marshal(fed.RenderActor(acc))
	if err != nil {
		return err, "{}"
	}
	return nil, string(jsonBytes)
}

// GetFollowersCollection returns the followers collection of a local
// account. Only the count is exposed, not the member list.
func GetFollowersCollection(fed *activitypub.Federation, actor string) (error, string) {
	err, acc := fed.Accounts.ReadAccByUsername(actor)
	if err != nil {
		return err, "{}"
	}

	totalItems := 0
	err, followers := fed.Followers.ReadRemoteFollowers(acc.Id)
	if err == nil && followers != nil {
		totalItems = len(*followers)
	}

	collection := map[string]interface{}{
		"@context":   activitypub.ActivityStreamsContext,
		"id":         fed.ActorURI(acc.Username) + "/followers",
		"type":       "OrderedCollection",
		"totalItems": totalItems,
	}

	jsonBytes, err := json.Marshal(collection)
	if err != nil {
		return err, "{}"
	}
	return nil, string(jsonBytes)
}

// GetNoteObject returns a note as an ActivityPub object. Notes with a
// poll come back as Question, everything else as Note.
func GetNoteObject(fed *activitypub.Federation, noteId uuid.UUID) (error, string) {
	err, note := fed.Local.ReadNoteId(noteId)
	if err != nil {
		return err, "{}"
	}

	object := fed.RenderNote(note)
	if note.HasPoll {
		err, poll := fed.Local.ReadPollByNoteId(note.Id)
		if err == nil && poll != nil {
			object = fed.RenderQuestion(note, poll)
		}
	}

	jsonBytes, err := json.Marshal(object)
	if err != nil {
		return err, "{}"
	}
	return nil, string(jsonBytes)
}
