package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// IncomingActivity represents a generic ActivityPub activity
type IncomingActivity struct {
	Context interface{} `json:"@context"`
	ID      string      `json:"id"`
	Type    string      `json:"type"`
	Actor   string      `json:"actor"`
	Object  interface{} `json:"object"`
}

// HandleInbox processes incoming ActivityPub activities addressed to a
// local user.
func (f *Federation) HandleInbox(w http.ResponseWriter, r *http.Request, username string) {
	signature := r.Header.Get("Signature")
	if signature == "" {
		log.Printf("Inbox: Missing HTTP signature")
		http.Error(w, "Missing signature", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var activity IncomingActivity
	if err := json.Unmarshal(body, &activity); err != nil {
		log.Printf("Inbox: Failed to parse activity: %v", err)
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}

	log.Printf("Inbox: Received %s from %s", activity.Type, activity.Actor)

	// Fetch remote actor to verify and cache
	remoteActor, err := f.GetOrFetchActor(r.Context(), activity.Actor)
	if err != nil {
		log.Printf("Inbox: Failed to fetch actor %s: %v", activity.Actor, err)
		http.Error(w, "Failed to verify actor", http.StatusBadRequest)
		return
	}

	// Verify HTTP signature with actor's public key
	if _, err := VerifyRequest(r, remoteActor.PublicKeyPem); err != nil {
		log.Printf("Inbox: Signature verification failed: %v", err)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	database := db.GetDB()

	// Extract ObjectURI from the activity's object field
	objectURI := ""
	switch obj := activity.Object.(type) {
	case string:
		objectURI = obj
	case map[string]interface{}:
		if id, ok := obj["id"].(string); ok {
			objectURI = id
		}
	}

	activityRecord := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  activity.ID,
		ActivityType: activity.Type,
		ActorURI:     activity.Actor,
		ObjectURI:    objectURI,
		RawJSON:      string(body),
		Processed:    false,
		Local:        false,
		CreatedAt:    time.Now(),
	}

	if err := database.CreateActivity(activityRecord); err != nil {
		log.Printf("Inbox: Failed to store activity: %v", err)
		// Don't fail the request, we'll process it anyway
	}

	switch activity.Type {
	case "Follow":
		if err := f.handleFollowActivity(r.Context(), body, username, remoteActor); err != nil {
			log.Printf("Inbox: Failed to handle Follow: %v", err)
			http.Error(w, "Failed to process Follow", http.StatusInternalServerError)
			return
		}
	case "Undo":
		if err := f.handleUndoActivity(body, remoteActor); err != nil {
			log.Printf("Inbox: Failed to handle Undo: %v", err)
			http.Error(w, "Failed to process Undo", http.StatusInternalServerError)
			return
		}
	case "Create":
		if err := f.handleCreateActivity(body, username); err != nil {
			log.Printf("Inbox: Failed to handle Create: %v", err)
			http.Error(w, "Failed to process Create", http.StatusInternalServerError)
			return
		}
	case "Like":
		if err := f.handleLikeActivity(body, remoteActor); err != nil {
			log.Printf("Inbox: Failed to handle Like: %v", err)
			http.Error(w, "Failed to process Like", http.StatusInternalServerError)
			return
		}
	case "Accept":
		// Accept activities are confirmations of Follow requests
		if err := f.handleAcceptActivity(body); err != nil {
			log.Printf("Inbox: Failed to handle Accept: %v", err)
			// Don't fail the request
		}
	case "Delete":
		if err := f.handleDeleteActivity(body); err != nil {
			log.Printf("Inbox: Failed to handle Delete: %v", err)
			http.Error(w, "Failed to process Delete", http.StatusInternalServerError)
			return
		}
	default:
		log.Printf("Inbox: Unsupported activity type: %s", activity.Type)
	}

	activityRecord.Processed = true
	database.UpdateActivity(activityRecord)

	w.WriteHeader(http.StatusAccepted)
}

// handleFollowActivity processes a Follow activity and answers with an
// Accept delivered back to the follower.
func (f *Federation) handleFollowActivity(ctx context.Context, body []byte, username string, remoteActor *domain.RemoteAccount) error {
	var follow struct {
		ID     string `json:"id"`
		Actor  string `json:"actor"`
		Object string `json:"object"`
	}
	if err := json.Unmarshal(body, &follow); err != nil {
		return fmt.Errorf("failed to parse Follow activity: %w", err)
	}

	log.Printf("Inbox: Processing Follow from %s@%s", remoteActor.Username, remoteActor.Domain)

	database := db.GetDB()
	err, localAccount := database.ReadAccByUsername(username)
	if err != nil {
		return fmt.Errorf("local account not found: %w", err)
	}

	followRecord := &domain.Follow{
		Id:              uuid.New(),
		AccountId:       remoteActor.Id,  // The follower
		TargetAccountId: localAccount.Id, // The target being followed
		URI:             follow.ID,
		Accepted:        true, // Auto-accept
		CreatedAt:       time.Now(),
	}

	if err := database.CreateFollow(followRecord); err != nil {
		return fmt.Errorf("failed to create follow: %w", err)
	}

	actorURI := f.ActorURI(localAccount.Username)
	accept := map[string]interface{}{
		"@context": ActivityStreamsContext,
		"id":       fmt.Sprintf("https://%s/activities/%s", f.Conf.Conf.SslDomain, uuid.New().String()),
		"type":     "Accept",
		"actor":    actorURI,
		"object": map[string]interface{}{
			"id":     follow.ID,
			"type":   "Follow",
			"actor":  remoteActor.ActorURI,
			"object": actorURI,
		},
	}

	if err := f.DeliverToUser(ctx, localAccount, accept, remoteActor); err != nil {
		return fmt.Errorf("failed to queue Accept: %w", err)
	}

	log.Printf("Inbox: Accepted follow from %s@%s", remoteActor.Username, remoteActor.Domain)
	return nil
}

// handleUndoActivity processes an Undo activity (e.g., Undo Follow)
func (f *Federation) handleUndoActivity(body []byte, remoteActor *domain.RemoteAccount) error {
	var undo struct {
		Type   string          `json:"type"`
		Actor  string          `json:"actor"`
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(body, &undo); err != nil {
		return fmt.Errorf("failed to parse Undo activity: %w", err)
	}

	var obj struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(undo.Object, &obj); err != nil {
		return fmt.Errorf("failed to parse Undo object: %w", err)
	}

	database := db.GetDB()
	switch obj.Type {
	case "Follow":
		if err := database.DeleteFollowByURI(obj.ID); err != nil {
			return fmt.Errorf("failed to delete follow: %w", err)
		}
		log.Printf("Inbox: Removed follow from %s@%s", remoteActor.Username, remoteActor.Domain)
	case "Like":
		if err := database.DeleteLikeByURI(obj.ID); err != nil {
			return fmt.Errorf("failed to delete like: %w", err)
		}
	}

	return nil
}

// handleCreateActivity processes a Create activity (incoming post/note)
func (f *Federation) handleCreateActivity(body []byte, username string) error {
	var create struct {
		ID     string `json:"id"`
		Actor  string `json:"actor"`
		Object struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"object"`
	}

	if err := json.Unmarshal(body, &create); err != nil {
		return fmt.Errorf("failed to parse Create activity: %w", err)
	}

	log.Printf("Inbox: Received post from %s", create.Actor)

	database := db.GetDB()

	err, localAccount := database.ReadAccByUsername(username)
	if err != nil {
		return fmt.Errorf("failed to get local account: %w", err)
	}

	err, remoteActor := database.ReadRemoteAccountByActorURI(create.Actor)
	if err != nil || remoteActor == nil {
		log.Printf("Inbox: Rejecting Create from unknown actor %s (not cached)", create.Actor)
		return fmt.Errorf("unknown actor")
	}

	// Only accept posts from actors a local user follows (prevents spam)
	err, follow := database.ReadFollowByAccountIds(localAccount.Id, remoteActor.Id)
	if err != nil || follow == nil {
		log.Printf("Inbox: Rejecting Create from %s - not following", create.Actor)
		return fmt.Errorf("not following this actor")
	}

	activityURI := create.ID
	if activityURI == "" {
		activityURI = create.Object.ID
	}

	// Deduplicate by activity id
	if err, existing := database.ReadActivityByURI(activityURI); err == nil && existing != nil {
		log.Printf("Inbox: Activity %s already exists, skipping", activityURI)
		return nil
	}

	activity := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  activityURI,
		ActivityType: "Create",
		ActorURI:     create.Actor,
		ObjectURI:    create.Object.ID,
		RawJSON:      string(body),
		Processed:    true,
		Local:        false,
		CreatedAt:    time.Now(),
	}

	if err := database.CreateActivity(activity); err != nil {
		log.Printf("Inbox: Failed to store Create activity: %v", err)
		// Don't fail the request
	}

	return nil
}

// handleLikeActivity stores a like on a local note.
func (f *Federation) handleLikeActivity(body []byte, remoteActor *domain.RemoteAccount) error {
	var like struct {
		ID     string `json:"id"`
		Object string `json:"object"`
	}
	if err := json.Unmarshal(body, &like); err != nil {
		return fmt.Errorf("failed to parse Like activity: %w", err)
	}

	// The liked object must be one of our notes
	noteId, err := parseLocalNoteURI(like.Object, f.Conf.Conf.SslDomain)
	if err != nil {
		log.Printf("Inbox: Ignoring Like of non-local object %s", like.Object)
		return nil
	}

	record := &domain.Like{
		Id:        uuid.New(),
		AccountId: remoteActor.Id,
		NoteId:    noteId,
		URI:       like.ID,
		CreatedAt: time.Now(),
	}
	if err := db.GetDB().CreateLike(record); err != nil {
		return fmt.Errorf("failed to store like: %w", err)
	}

	log.Printf("Inbox: Stored like from %s@%s", remoteActor.Username, remoteActor.Domain)
	return nil
}

// handleAcceptActivity processes an Accept activity (response to Follow)
func (f *Federation) handleAcceptActivity(body []byte) error {
	var accept struct {
		Type   string          `json:"type"`
		Actor  string          `json:"actor"`
		Object json.RawMessage `json:"object"`
	}

	if err := json.Unmarshal(body, &accept); err != nil {
		return fmt.Errorf("failed to parse Accept activity: %w", err)
	}

	var followObj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(accept.Object, &followObj); err != nil {
		return fmt.Errorf("failed to parse Accept object: %w", err)
	}

	if err := db.GetDB().AcceptFollowByURI(followObj.ID); err != nil {
		return fmt.Errorf("failed to accept follow: %w", err)
	}

	log.Printf("Inbox: Follow %s was accepted by %s", followObj.ID, accept.Actor)
	return nil
}

// handleDeleteActivity processes a Delete activity (post or account)
func (f *Federation) handleDeleteActivity(body []byte) error {
	var del struct {
		ID     string      `json:"id"`
		Actor  string      `json:"actor"`
		Object interface{} `json:"object"`
	}

	if err := json.Unmarshal(body, &del); err != nil {
		return fmt.Errorf("failed to parse Delete activity: %w", err)
	}

	var objectURI string
	switch obj := del.Object.(type) {
	case string:
		objectURI = obj
	case map[string]interface{}:
		if id, ok := obj["id"].(string); ok {
			objectURI = id
		}
	}

	if objectURI == "" {
		return fmt.Errorf("could not determine object URI from Delete activity")
	}

	log.Printf("Inbox: Processing Delete for %s from %s", objectURI, del.Actor)

	database := db.GetDB()

	if objectURI == del.Actor {
		// Actor deletion - remove the account and everything attached
		err, remoteAcc := database.ReadRemoteAccountByActorURI(objectURI)
		if err == nil && remoteAcc != nil {
			database.DeleteFollowsByRemoteAccountId(remoteAcc.Id)
			database.DeleteRemoteAccount(remoteAcc.Id)
			log.Printf("Inbox: Removed actor %s and all associated data", objectURI)
		}
		return nil
	}

	err, activity := database.ReadActivityByObjectURI(objectURI)
	if err != nil || activity == nil {
		log.Printf("Inbox: Activity with object %s not found for deletion, ignoring", objectURI)
		return nil
	}

	if err := database.DeleteActivity(activity.Id); err != nil {
		return fmt.Errorf("failed to delete activity: %w", err)
	}
	log.Printf("Inbox: Deleted activity containing object %s", objectURI)
	return nil
}

// parseLocalNoteURI extracts the note id from a local note URI.
func parseLocalNoteURI(uri string, localDomain string) (uuid.UUID, error) {
	expected := fmt.Sprintf("https://%s/notes/", localDomain)
	if len(uri) <= len(expected) || uri[:len(expected)] != expected {
		return uuid.Nil, fmt.Errorf("not a local note URI: %s", uri)
	}
	return uuid.Parse(uri[len(expected):])
}
