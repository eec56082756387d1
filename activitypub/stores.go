package activitypub

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
)

// AccountStore looks up local accounts, including their signing keys.
type AccountStore interface {
	ReadAccById(id uuid.UUID) (error, *domain.Account)
	ReadAccByUsername(username string) (error, *domain.Account)
}

// FollowerStore lists the remote followers of a local account.
type FollowerStore interface {
	ReadRemoteFollowers(accountId uuid.UUID) (error, *[]domain.RemoteAccount)
}

// PeerStore tracks the health records of remote servers.
type PeerStore interface {
	ReadSuspendedPeers() (error, *[]domain.Peer)
	ReadOrCreatePeer(host string) (error, *domain.Peer)
	UpdatePeerHealth(host string, suspended *bool, notResponding *bool) error
	TouchPeer(host string, fetchedAt time.Time) error
}

// RelayStore lists the relays this instance has an accepted subscription to.
type RelayStore interface {
	ReadAcceptedRelays() (error, *[]domain.Relay)
}

// LocalStore resolves local object ids without any network round-trip.
type LocalStore interface {
	ReadNoteId(id uuid.UUID) (error, *domain.Note)
	ReadPollByNoteId(noteId uuid.UUID) (error, *domain.Poll)
	ReadLikeById(id uuid.UUID) (error, *domain.Like)
	ReadFollowByAccountIds(accountId uuid.UUID, targetAccountId uuid.UUID) (error, *domain.Follow)
	ReadRemoteAccountById(id uuid.UUID) (error, *domain.RemoteAccount)
	ReadRemoteAccountByActorURI(uri string) (error, *domain.RemoteAccount)
	CreateRemoteAccount(acc *domain.RemoteAccount) error
	UpdateRemoteAccount(acc *domain.RemoteAccount) error
}

// QueueStore persists delivery jobs until they terminate.
type QueueStore interface {
	EnqueueDelivery(job *domain.DeliveryJob) error
	ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryJob)
	UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error
	DeleteDelivery(id uuid.UUID) error
}

// MetricsSink receives fire-and-forget delivery counters. Implementations
// must never block or fail.
type MetricsSink interface {
	DeliverySucceeded(host string)
	DeliveryFailed(host string)
}

// Federation bundles the configuration and collaborator stores the delivery
// and resolution engine runs against. All fields are injected so tests can
// swap in fakes.
type Federation struct {
	Conf      *util.AppConfig
	Accounts  AccountStore
	Followers FollowerStore
	Peers     PeerStore
	Relays    RelayStore
	Local     LocalStore
	Queue     QueueStore
	Metrics   MetricsSink
	Client    *http.Client

	suspended *suspendedHostCache
	relays    *relayCache
}

// NewFederation wires up a Federation with the default pooled HTTP client
// and cache TTLs.
func NewFederation(conf *util.AppConfig, accounts AccountStore, followers FollowerStore,
	peers PeerStore, relays RelayStore, local LocalStore, queue QueueStore, metrics MetricsSink) *Federation {
	f := &Federation{
		Conf:      conf,
		Accounts:  accounts,
		Followers: followers,
		Peers:     peers,
		Relays:    relays,
		Local:     local,
		Queue:     queue,
		Metrics:   metrics,
		Client:    newPooledClient(),
	}
	f.suspended = newSuspendedHostCache(peers, suspendedCacheTTL)
	f.relays = newRelayCache(relays, relayCacheTTL)
	return f
}

// ActorURI returns the canonical URI of a local account.
func (f *Federation) ActorURI(username string) string {
	return fmt.Sprintf("https://%s/users/%s", f.Conf.Conf.SslDomain, username)
}

// KeyId returns the signing key id of a local account.
func (f *Federation) KeyId(username string) string {
	return f.ActorURI(username) + "#main-key"
}

// HostBlocked checks a host against the configured block list. Subdomains
// of a blocked host are blocked too.
func (f *Federation) HostBlocked(host string) bool {
	host = strings.ToLower(host)
	for _, blocked := range f.Conf.Conf.BlockedHosts {
		blocked = strings.ToLower(blocked)
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

// hostOf extracts the lowercased host from a URI, or "" if unparsable.
func hostOf(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
