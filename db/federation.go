package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/google/uuid"
)

// Remote Accounts queries
const (
	sqlInsertRemoteAccount   = `INSERT INTO remote_accounts(id, username, domain, actor_uri, display_name, summary, inbox_uri, shared_inbox_uri, outbox_uri, public_key_pem, last_fetched_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectRemoteAccFields = `SELECT id, username, domain, actor_uri, display_name, summary, inbox_uri, shared_inbox_uri, outbox_uri, public_key_pem, last_fetched_at FROM remote_accounts`
	sqlSelectRemoteAccByURI  = sqlSelectRemoteAccFields + ` WHERE actor_uri = ?`
	sqlSelectRemoteAccById   = sqlSelectRemoteAccFields + ` WHERE id = ?`
	sqlUpdateRemoteAccount   = `UPDATE remote_accounts SET display_name = ?, summary = ?, inbox_uri = ?, shared_inbox_uri = ?, outbox_uri = ?, public_key_pem = ?, last_fetched_at = ? WHERE actor_uri = ?`
	sqlDeleteRemoteAccount   = `DELETE FROM remote_accounts WHERE id = ?`
)

func (db *DB) CreateRemoteAccount(acc *domain.RemoteAccount) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRemoteAccount,
			acc.Id.String(),
			acc.Username,
			acc.Domain,
			acc.ActorURI,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			acc.SharedInboxURI,
			acc.OutboxURI,
			acc.PublicKeyPem,
			acc.LastFetchedAt,
		)
		return err
	})
}

func (db *DB) UpdateRemoteAccount(acc *domain.RemoteAccount) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateRemoteAccount,
			acc.DisplayName,
			acc.Summary,
			acc.InboxURI,
			acc.SharedInboxURI,
			acc.OutboxURI,
			acc.PublicKeyPem,
			acc.LastFetchedAt,
			acc.ActorURI,
		)
		return err
	})
}

func (db *DB) ReadRemoteAccountByActorURI(uri string) (error, *domain.RemoteAccount) {
	return scanRemoteAccount(db.db.QueryRow(sqlSelectRemoteAccByURI, uri))
}

func (db *DB) ReadRemoteAccountById(id uuid.UUID) (error, *domain.RemoteAccount) {
	return scanRemoteAccount(db.db.QueryRow(sqlSelectRemoteAccById, id.String()))
}

func (db *DB) DeleteRemoteAccount(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteRemoteAccount, id.String())
		return err
	})
}

func scanRemoteAccount(row *sql.Row) (error, *domain.RemoteAccount) {
	var acc domain.RemoteAccount
	var idStr string
	err := row.Scan(
		&idStr,
		&acc.Username,
		&acc.Domain,
		&acc.ActorURI,
		&acc.DisplayName,
		&acc.Summary,
		&acc.InboxURI,
		&acc.SharedInboxURI,
		&acc.OutboxURI,
		&acc.PublicKeyPem,
		&acc.LastFetchedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	acc.Id, _ = uuid.Parse(idStr)
	return nil, &acc
}

// Follow queries
const (
	sqlInsertFollow           = `INSERT INTO follows(id, account_id, target_account_id, uri, accepted, is_local, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectFollowFields     = `SELECT id, account_id, target_account_id, uri, accepted, is_local, created_at FROM follows`
	sqlSelectFollowByURI      = sqlSelectFollowFields + ` WHERE uri = ?`
	sqlSelectFollowByAccounts = sqlSelectFollowFields + ` WHERE account_id = ? AND target_account_id = ?`
	sqlDeleteFollowByURI      = `DELETE FROM follows WHERE uri = ?`
	sqlAcceptFollowByURI      = `UPDATE follows SET accepted = 1 WHERE uri = ?`
	sqlDeleteFollowsByAccount = `DELETE FROM follows WHERE account_id = ? OR target_account_id = ?`
	// Remote followers of a local account: join against the remote account
	// cache so the fan-out has inbox and shared inbox at hand.
	sqlSelectRemoteFollowers = `SELECT ra.id, ra.username, ra.domain, ra.actor_uri, ra.display_name, ra.summary, ra.inbox_uri, ra.shared_inbox_uri, ra.outbox_uri, ra.public_key_pem, ra.last_fetched_at
                            FROM follows f
                            INNER JOIN remote_accounts ra ON ra.id = f.account_id
                            WHERE f.target_account_id = ? AND f.accepted = 1`
)

func (db *DB) CreateFollow(follow *domain.Follow) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow,
			follow.Id.String(),
			follow.AccountId.String(),
			follow.TargetAccountId.String(),
			follow.URI,
			follow.Accepted,
			follow.IsLocal,
			follow.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadFollowByURI(uri string) (error, *domain.Follow) {
	return scanFollow(db.db.QueryRow(sqlSelectFollowByURI, uri))
}

func (db *DB) ReadFollowByAccountIds(accountId uuid.UUID, targetAccountId uuid.UUID) (error, *domain.Follow) {
	return scanFollow(db.db.QueryRow(sqlSelectFollowByAccounts, accountId.String(), targetAccountId.String()))
}

func (db *DB) DeleteFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByURI, uri)
		return err
	})
}

func (db *DB) AcceptFollowByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAcceptFollowByURI, uri)
		return err
	})
}

func (db *DB) DeleteFollowsByRemoteAccountId(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowsByAccount, id.String(), id.String())
		return err
	})
}

// ReadFollowersByAccountId lists the follow rows pointing at the given
// account, i.e. who follows it.
func (db *DB) ReadFollowersByAccountId(targetAccountId uuid.UUID) (error, *[]domain.Follow) {
	rows, err := db.db.Query(sqlSelectFollowFields+` WHERE target_account_id = ? AND accepted = 1`, targetAccountId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	follows := []domain.Follow{}
	for rows.Next() {
		var follow domain.Follow
		var idStr, accountIdStr, targetIdStr string
		if err := rows.Scan(&idStr, &accountIdStr, &targetIdStr, &follow.URI, &follow.Accepted, &follow.IsLocal, &follow.CreatedAt); err != nil {
			return err, &follows
		}
		follow.Id, _ = uuid.Parse(idStr)
		follow.AccountId, _ = uuid.Parse(accountIdStr)
		follow.TargetAccountId, _ = uuid.Parse(targetIdStr)
		follows = append(follows, follow)
	}
	if err = rows.Err(); err != nil {
		return err, &follows
	}
	return nil, &follows
}

func (db *DB) ReadRemoteFollowers(accountId uuid.UUID) (error, *[]domain.RemoteAccount) {
	rows, err := db.db.Query(sqlSelectRemoteFollowers, accountId.String())
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	followers := []domain.RemoteAccount{}
	for rows.Next() {
		var acc domain.RemoteAccount
		var idStr string
		if err := rows.Scan(&idStr, &acc.Username, &acc.Domain, &acc.ActorURI, &acc.DisplayName, &acc.Summary, &acc.InboxURI, &acc.SharedInboxURI, &acc.OutboxURI, &acc.PublicKeyPem, &acc.LastFetchedAt); err != nil {
			return err, &followers
		}
		acc.Id, _ = uuid.Parse(idStr)
		followers = append(followers, acc)
	}
	if err = rows.Err(); err != nil {
		return err, &followers
	}
	return nil, &followers
}

func scanFollow(row *sql.Row) (error, *domain.Follow) {
	var follow domain.Follow
	var idStr, accountIdStr, targetIdStr string
	err := row.Scan(
		&idStr,
		&accountIdStr,
		&targetIdStr,
		&follow.URI,
		&follow.Accepted,
		&follow.IsLocal,
		&follow.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	follow.Id, _ = uuid.Parse(idStr)
	follow.AccountId, _ = uuid.Parse(accountIdStr)
	follow.TargetAccountId, _ = uuid.Parse(targetIdStr)
	return nil, &follow
}

// Like queries
const (
	sqlInsertLike      = `INSERT INTO likes(id, account_id, note_id, uri, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectLikeById  = `SELECT id, account_id, note_id, uri, created_at FROM likes WHERE id = ?`
	sqlDeleteLikeByURI = `DELETE FROM likes WHERE uri = ?`
)

func (db *DB) CreateLike(like *domain.Like) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertLike,
			like.Id.String(),
			like.AccountId.String(),
			like.NoteId.String(),
			like.URI,
			like.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadLikeById(id uuid.UUID) (error, *domain.Like) {
	row := db.db.QueryRow(sqlSelectLikeById, id.String())
	var like domain.Like
	var idStr, accountIdStr, noteIdStr string
	err := row.Scan(&idStr, &accountIdStr, &noteIdStr, &like.URI, &like.CreatedAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	like.Id, _ = uuid.Parse(idStr)
	like.AccountId, _ = uuid.Parse(accountIdStr)
	like.NoteId, _ = uuid.Parse(noteIdStr)
	return nil, &like
}

func (db *DB) DeleteLikeByURI(uri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteLikeByURI, uri)
		return err
	})
}

// Poll queries
const (
	sqlInsertPoll       = `INSERT INTO polls(note_id, choices, votes, multiple, expires_at) VALUES (?, ?, ?, ?, ?)`
	sqlSelectPollByNote = `SELECT note_id, choices, votes, multiple, expires_at FROM polls WHERE note_id = ?`
)

func (db *DB) CreatePoll(poll *domain.Poll) error {
	choices, err := json.Marshal(poll.Choices)
	if err != nil {
		return err
	}
	votes, err := json.Marshal(poll.Votes)
	if err != nil {
		return err
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPoll, poll.NoteId.String(), string(choices), string(votes), poll.Multiple, poll.ExpiresAt)
		return err
	})
}

func (db *DB) ReadPollByNoteId(noteId uuid.UUID) (error, *domain.Poll) {
	row := db.db.QueryRow(sqlSelectPollByNote, noteId.String())
	var poll domain.Poll
	var idStr, choices, votes string
	var expiresAt sql.NullTime
	err := row.Scan(&idStr, &choices, &votes, &poll.Multiple, &expiresAt)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	poll.NoteId, _ = uuid.Parse(idStr)
	json.Unmarshal([]byte(choices), &poll.Choices)
	json.Unmarshal([]byte(votes), &poll.Votes)
	if expiresAt.Valid {
		poll.ExpiresAt = &expiresAt.Time
	}
	return nil, &poll
}

// Activity queries
const (
	sqlInsertActivity            = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateActivity            = `UPDATE activities SET processed = ?, object_uri = ?, raw_json = ? WHERE id = ?`
	sqlSelectActivityFields      = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at FROM activities`
	sqlSelectActivityByURI       = sqlSelectActivityFields + ` WHERE activity_uri = ?`
	sqlSelectActivityByObjectURI = sqlSelectActivityFields + ` WHERE object_uri = ?`
	sqlDeleteActivity            = `DELETE FROM activities WHERE id = ?`
)

func (db *DB) CreateActivity(activity *domain.Activity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			activity.Id.String(),
			activity.ActivityURI,
			activity.ActivityType,
			activity.ActorURI,
			activity.ObjectURI,
			activity.RawJSON,
			activity.Processed,
			activity.Local,
			activity.CreatedAt,
		)
		return err
	})
}

func (db *DB) UpdateActivity(activity *domain.Activity) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActivity,
			activity.Processed,
			activity.ObjectURI,
			activity.RawJSON,
			activity.Id.String(),
		)
		return err
	})
}

func (db *DB) ReadActivityByURI(uri string) (error, *domain.Activity) {
	return scanActivity(db.db.QueryRow(sqlSelectActivityByURI, uri))
}

func (db *DB) ReadActivityByObjectURI(uri string) (error, *domain.Activity) {
	return scanActivity(db.db.QueryRow(sqlSelectActivityByObjectURI, uri))
}

func (db *DB) DeleteActivity(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteActivity, id.String())
		return err
	})
}

func scanActivity(row *sql.Row) (error, *domain.Activity) {
	var activity domain.Activity
	var idStr string
	err := row.Scan(
		&idStr,
		&activity.ActivityURI,
		&activity.ActivityType,
		&activity.ActorURI,
		&activity.ObjectURI,
		&activity.RawJSON,
		&activity.Processed,
		&activity.Local,
		&activity.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return err, nil
	}
	if err != nil {
		return err, nil
	}
	activity.Id, _ = uuid.Parse(idStr)
	return nil, &activity
}

// Delivery Queue queries
const (
	sqlInsertDeliveryJob       = `INSERT INTO delivery_queue(id, actor_id, inbox_uri, shared, activity_json, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, actor_id, inbox_uri, shared, activity_json, attempts, next_retry_at, created_at FROM delivery_queue WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlUpdateDeliveryAttempt   = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery          = `DELETE FROM delivery_queue WHERE id = ?`
)

func (db *DB) EnqueueDelivery(job *domain.DeliveryJob) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertDeliveryJob,
			job.Id.String(),
			job.ActorId.String(),
			job.InboxURI,
			job.SharedInbox,
			job.ActivityJSON,
			job.Attempts,
			job.NextRetryAt,
			job.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryJob) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var jobs []domain.DeliveryJob
	for rows.Next() {
		var job domain.DeliveryJob
		var idStr, actorIdStr string
		if err := rows.Scan(&idStr, &actorIdStr, &job.InboxURI, &job.SharedInbox, &job.ActivityJSON, &job.Attempts, &job.NextRetryAt, &job.CreatedAt); err != nil {
			return err, &jobs
		}
		job.Id, _ = uuid.Parse(idStr)
		job.ActorId, _ = uuid.Parse(actorIdStr)
		jobs = append(jobs, job)
	}
	if err = rows.Err(); err != nil {
		return err, &jobs
	}
	return nil, &jobs
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetry, id.String())
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id.String())
		return err
	})
}

// Peer queries
const (
	sqlInsertPeer           = `INSERT INTO peers(host, suspended, not_responding, last_fetched_at) VALUES (?, 0, 0, ?)`
	sqlSelectPeerByHost     = `SELECT host, suspended, not_responding, last_fetched_at FROM peers WHERE host = ?`
	sqlSelectSuspendedPeers = `SELECT host, suspended, not_responding, last_fetched_at FROM peers WHERE suspended = 1`
	sqlUpdatePeerSuspended  = `UPDATE peers SET suspended = ? WHERE host = ?`
	sqlUpdatePeerResponding = `UPDATE peers SET not_responding = ? WHERE host = ?`
	sqlTouchPeer            = `UPDATE peers SET last_fetched_at = ? WHERE host = ?`
)

// ReadOrCreatePeer returns the health record for host, creating a fresh
// one on first contact.
func (db *DB) ReadOrCreatePeer(host string) (error, *domain.Peer) {
	if err, peer := db.readPeer(host); err == nil {
		return nil, peer
	}

	peer := &domain.Peer{Host: host, LastFetchedAt: time.Now()}
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPeer, peer.Host, peer.LastFetchedAt)
		return err
	})
	if err != nil {
		return err, nil
	}
	return nil, peer
}

func (db *DB) readPeer(host string) (error, *domain.Peer) {
	row := db.db.QueryRow(sqlSelectPeerByHost, host)
	var peer domain.Peer
	err := row.Scan(&peer.Host, &peer.Suspended, &peer.NotResponding, &peer.LastFetchedAt)
	if err != nil {
		return err, nil
	}
	return nil, &peer
}

func (db *DB) ReadSuspendedPeers() (error, *[]domain.Peer) {
	rows, err := db.db.Query(sqlSelectSuspendedPeers)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	peers := []domain.Peer{}
	for rows.Next() {
		var peer domain.Peer
		if err := rows.Scan(&peer.Host, &peer.Suspended, &peer.NotResponding, &peer.LastFetchedAt); err != nil {
			return err, &peers
		}
		peers = append(peers, peer)
	}
	if err = rows.Err(); err != nil {
		return err, &peers
	}
	return nil, &peers
}

// UpdatePeerHealth applies the non-nil flags to the peer record, creating
// it first if the host is unknown.
func (db *DB) UpdatePeerHealth(host string, suspended *bool, notResponding *bool) error {
	if err, _ := db.ReadOrCreatePeer(host); err != nil {
		return err
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if suspended != nil {
			if _, err := tx.Exec(sqlUpdatePeerSuspended, *suspended, host); err != nil {
				return err
			}
		}
		if notResponding != nil {
			if _, err := tx.Exec(sqlUpdatePeerResponding, *notResponding, host); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) TouchPeer(host string, fetchedAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlTouchPeer, fetchedAt, host)
		return err
	})
}

// Relay queries
const (
	sqlInsertRelay          = `INSERT INTO relays(id, inbox_uri, accepted, created_at) VALUES (?, ?, ?, ?)`
	sqlSelectAcceptedRelays = `SELECT id, inbox_uri, accepted, created_at FROM relays WHERE accepted = 1`
	sqlAcceptRelay          = `UPDATE relays SET accepted = 1 WHERE inbox_uri = ?`
	sqlDeleteRelay          = `DELETE FROM relays WHERE inbox_uri = ?`
)

func (db *DB) CreateRelay(relay *domain.Relay) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertRelay, relay.Id.String(), relay.InboxURI, relay.Accepted, relay.CreatedAt)
		return err
	})
}

func (db *DB) ReadAcceptedRelays() (error, *[]domain.Relay) {
	rows, err := db.db.Query(sqlSelectAcceptedRelays)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	relays := []domain.Relay{}
	for rows.Next() {
		var relay domain.Relay
		var idStr string
		if err := rows.Scan(&idStr, &relay.InboxURI, &relay.Accepted, &relay.CreatedAt); err != nil {
			return err, &relays
		}
		relay.Id, _ = uuid.Parse(idStr)
		relays = append(relays, relay)
	}
	if err = rows.Err(); err != nil {
		return err, &relays
	}
	return nil, &relays
}

func (db *DB) AcceptRelayByInbox(inboxURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlAcceptRelay, inboxURI)
		return err
	})
}

func (db *DB) DeleteRelayByInbox(inboxURI string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteRelay, inboxURI)
		return err
	})
}
