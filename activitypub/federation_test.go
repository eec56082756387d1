package activitypub

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/google/uuid"
)

var errNotFound = errors.New("not found")

// attemptUpdate records one UpdateDeliveryAttempt call.
type attemptUpdate struct {
	id        uuid.UUID
	attempts  int
	nextRetry time.Time
}

// peerHealthCall records one UpdatePeerHealth call.
type peerHealthCall struct {
	host          string
	suspended     *bool
	notResponding *bool
}

// fakeStores implements every store interface in memory, for wiring a
// Federation in tests.
type fakeStores struct {
	mu sync.Mutex

	accounts     map[uuid.UUID]*domain.Account
	accountNames map[string]*domain.Account
	followers    []domain.RemoteAccount
	remotesByURI map[string]*domain.RemoteAccount
	remotesById  map[uuid.UUID]*domain.RemoteAccount
	notes        map[uuid.UUID]*domain.Note
	polls        map[uuid.UUID]*domain.Poll
	likes        map[uuid.UUID]*domain.Like
	follows      map[[2]uuid.UUID]*domain.Follow
	suspended    []domain.Peer
	relays       []domain.Relay

	jobs        []domain.DeliveryJob
	deletedJobs []uuid.UUID
	updates     []attemptUpdate
	enqueueErr  error

	healthCalls []peerHealthCall
	touched     []string

	metricsSucceeded []string
	metricsFailed    []string
}

func newFakeStores() *fakeStores {
	return &fakeStores{
		accounts:     make(map[uuid.UUID]*domain.Account),
		accountNames: make(map[string]*domain.Account),
		remotesByURI: make(map[string]*domain.RemoteAccount),
		remotesById:  make(map[uuid.UUID]*domain.RemoteAccount),
		notes:        make(map[uuid.UUID]*domain.Note),
		polls:        make(map[uuid.UUID]*domain.Poll),
		likes:        make(map[uuid.UUID]*domain.Like),
		follows:      make(map[[2]uuid.UUID]*domain.Follow),
	}
}

func (s *fakeStores) addAccount(acc *domain.Account) {
	s.accounts[acc.Id] = acc
	s.accountNames[acc.Username] = acc
}

func (s *fakeStores) addRemote(acc *domain.RemoteAccount) {
	s.remotesByURI[acc.ActorURI] = acc
	s.remotesById[acc.Id] = acc
}

func (s *fakeStores) ReadAccById(id uuid.UUID) (error, *domain.Account) {
	if acc, ok := s.accounts[id]; ok {
		return nil, acc
	}
	return errNotFound, nil
}

func (s *fakeStores) ReadAccByUsername(username string) (error, *domain.Account) {
	if acc, ok := s.accountNames[username]; ok {
		return nil, acc
	}
	return errNotFound, nil
}

func (s *fakeStores) ReadRemoteFollowers(accountId uuid.UUID) (error, *[]domain.RemoteAccount) {
	followers := s.followers
	return nil, &followers
}

func (s *fakeStores) ReadSuspendedPeers() (error, *[]domain.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peers := s.suspended
	return nil, &peers
}

func (s *fakeStores) ReadOrCreatePeer(host string) (error, *domain.Peer) {
	return nil, &domain.Peer{Host: host, LastFetchedAt: time.Now()}
}

func (s *fakeStores) UpdatePeerHealth(host string, suspended *bool, notResponding *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthCalls = append(s.healthCalls, peerHealthCall{host, suspended, notResponding})
	if suspended != nil && *suspended {
		s.suspended = append(s.suspended, domain.Peer{Host: host, Suspended: true})
	}
	return nil
}

func (s *fakeStores) TouchPeer(host string, fetchedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, host)
	return nil
}

func (s *fakeStores) ReadAcceptedRelays() (error, *[]domain.Relay) {
	relays := s.relays
	return nil, &relays
}

func (s *fakeStores) ReadNoteId(id uuid.UUID) (error, *domain.Note) {
	if note, ok := s.notes[id]; ok {
		return nil, note
	}
	return errNotFound, nil
}

func (s *fakeStores) ReadPollByNoteId(noteId uuid.UUID) (error, *domain.Poll) {
	if poll, ok := s.polls[noteId]; ok {
		return nil, poll
	}
	return errNotFound, nil
}

func (s *fakeStores) ReadLikeById(id uuid.UUID) (error, *domain.Like) {
	if like, ok := s.likes[id]; ok {
		return nil, like
	}
	return errNotFound, nil
}

func (s *fakeStores) ReadFollowByAccountIds(accountId uuid.UUID, targetAccountId uuid.UUID) (error, *domain.Follow) {
	if follow, ok := s.follows[[2]uuid.UUID{accountId, targetAccountId}]; ok {
		return nil, follow
	}
	return errNotFound, nil
}

func (s *fakeStores) ReadRemoteAccountById(id uuid.UUID) (error, *domain.RemoteAccount) {
	if acc, ok := s.remotesById[id]; ok {
		return nil, acc
	}
	return errNotFound, nil
}

func (s *fakeStores) ReadRemoteAccountByActorURI(uri string) (error, *domain.RemoteAccount) {
	if acc, ok := s.remotesByURI[uri]; ok {
		return nil, acc
	}
	return errNotFound, nil
}

func (s *fakeStores) CreateRemoteAccount(acc *domain.RemoteAccount) error {
	if _, ok := s.remotesByURI[acc.ActorURI]; ok {
		return errors.New("already exists")
	}
	s.addRemote(acc)
	return nil
}

func (s *fakeStores) UpdateRemoteAccount(acc *domain.RemoteAccount) error {
	s.addRemote(acc)
	return nil
}

func (s *fakeStores) EnqueueDelivery(job *domain.DeliveryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	s.jobs = append(s.jobs, *job)
	return nil
}

func (s *fakeStores) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := s.jobs
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return nil, &jobs
}

func (s *fakeStores) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, attemptUpdate{id, attempts, nextRetry})
	return nil
}

func (s *fakeStores) DeleteDelivery(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedJobs = append(s.deletedJobs, id)
	return nil
}

func (s *fakeStores) DeliverySucceeded(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsSucceeded = append(s.metricsSucceeded, host)
}

func (s *fakeStores) DeliveryFailed(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsFailed = append(s.metricsFailed, host)
}

// newTestFederation wires a Federation onto fresh fake stores.
func newTestFederation(t *testing.T) (*Federation, *fakeStores) {
	t.Helper()
	conf := &util.AppConfig{}
	conf.Conf.Host = "localhost"
	conf.Conf.HttpPort = 8080
	conf.Conf.SslDomain = "example.com"
	conf.Conf.WithAp = true
	conf.Conf.DeliveryWorkers = 2
	conf.Conf.DeliveryRate = 100

	stores := newFakeStores()
	fed := NewFederation(conf, stores, stores, stores, stores, stores, stores, stores)
	return fed, stores
}

// testKeyPEMs generates a signing keypair in the PEM forms accounts carry.
func testKeyPEMs(t *testing.T) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	})

	return string(privPEM), string(pubPEM)
}

// testLocalAccount adds a local account with a real keypair to the stores.
func testLocalAccount(t *testing.T, stores *fakeStores, username string) *domain.Account {
	t.Helper()
	privPEM, pubPEM := testKeyPEMs(t)
	acc := &domain.Account{
		Id:            uuid.New(),
		Username:      username,
		PublicKeyPem:  pubPEM,
		PrivateKeyPem: privPEM,
		CreatedAt:     time.Now(),
	}
	stores.addAccount(acc)
	return acc
}
