package web

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
)

const outboxItemsPerPage = 20

// GetOutbox returns an ActivityPub OrderedCollection of a user's public
// posts, so remote servers can discover posts without following the user.
func GetOutbox(fed *activitypub.Federation, actor string, page int) (error, string) {
	err, _ := fed.Accounts.ReadAccByUsername(actor)
	if err != nil {
		log.Printf("Outbox: User %s not found: %v", actor, err)
		return err, "{}"
	}

	err, notes := readPublicNotes(actor)
	if err != nil {
		log.Printf("Outbox: Failed to read notes for %s: %v", actor, err)
		return err, "{}"
	}

	outboxURL := fed.ActorURI(actor) + "/outbox"

	// Without a page parameter, return the collection metadata only
	if page == 0 {
		collection := map[string]interface{}{
			"@context":   activitypub.ActivityStreamsContext,
			"id":         outboxURL,
			"type":       "OrderedCollection",
			"totalItems": len(notes),
			"first":      fmt.Sprintf("%s?page=1", outboxURL),
		}
		jsonData, err := json.Marshal(collection)
		if err != nil {
			return err, "{}"
		}
		return nil, string(jsonData)
	}

	offset := (page - 1) * outboxItemsPerPage
	if offset > len(notes) {
		offset = len(notes)
	}
	end := offset + outboxItemsPerPage
	hasMore := end < len(notes)
	if end > len(notes) {
		end = len(notes)
	}

	items := make([]interface{}, 0, end-offset)
	for i := offset; i < end; i++ {
		note := notes[i]
		items = append(items, fed.RenderCreate(&note, fed.RenderNote(&note)))
	}

	collectionPage := map[string]interface{}{
		"@context":     activitypub.ActivityStreamsContext,
		"id":           fmt.Sprintf("%s?page=%d", outboxURL, page),
		"type":         "OrderedCollectionPage",
		"partOf":       outboxURL,
		"orderedItems": items,
	}
	if hasMore {
		collectionPage["next"] = fmt.Sprintf("%s?page=%d", outboxURL, page+1)
	}
	if page > 1 {
		collectionPage["prev"] = fmt.Sprintf("%s?page=%d", outboxURL, page-1)
	}

	jsonData, err := json.Marshal(collectionPage)
	if err != nil {
		return err, "{}"
	}
	return nil, string(jsonData)
}

func readPublicNotes(actor string) (error, []domain.Note) {
	err, notes := db.GetDB().ReadNotesByUsername(actor)
	if err != nil {
		return err, nil
	}
	return nil, filterPublicNotes(*notes)
}

// filterPublicNotes keeps only notes that are published to the fediverse.
// Unlisted and non-federated notes never leave the instance, neither via
// the outbox nor via the feed.
func filterPublicNotes(notes []domain.Note) []domain.Note {
	public := make([]domain.Note, 0, len(notes))
	for _, note := range notes {
		if note.Visibility == "public" && note.Federated {
			public = append(public, note)
		}
	}
	return public
}

// ParsePageParam extracts the page parameter from a query string
func ParsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return page
}
