package activitypub

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/deemkeen/mammut/domain"
	"golang.org/x/time/rate"
)

const (
	suspendedCacheTTL = time.Hour
	maxAttempts       = 10
	pollInterval      = 10 * time.Second
	pollBatchSize     = 50

	// deliveryLease must outlast the request timeout, so a job still in
	// flight is never picked up again by the next poll.
	deliveryLease = time.Minute
)

// backoff schedule in minutes, indexed by attempts-1 and capped at the
// last entry.
var backoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// deliveryOutcome is the terminal status of one job attempt.
type deliveryOutcome string

const (
	outcomeSuccess       deliveryOutcome = "success"
	outcomeSkipBlocked   deliveryOutcome = "skip (blocked host)"
	outcomeSkipSuspended deliveryOutcome = "skip (suspended host)"
	outcomeUnrecoverable deliveryOutcome = "unrecoverable"
	outcomeRetry         deliveryOutcome = "retry"
)

// StartDeliveryWorkers starts the background delivery pipeline: a poller
// feeding pending jobs to a pool of workers, globally rate-limited.
func StartDeliveryWorkers(ctx context.Context, f *Federation) {
	workers := f.Conf.Conf.DeliveryWorkers
	limiter := rate.NewLimiter(rate.Limit(f.Conf.Conf.DeliveryRate), f.Conf.Conf.DeliveryRate)
	jobs := make(chan domain.DeliveryJob)

	log.Printf("DeliveryWorker: Starting %d delivery workers (%d req/s)", workers, f.Conf.Conf.DeliveryRate)

	for i := 0; i < workers; i++ {
		go func() {
			for job := range jobs {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				f.ProcessDelivery(ctx, &job)
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		defer close(jobs)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.pollQueue(ctx, jobs)
			}
		}
	}()
}

func (f *Federation) pollQueue(ctx context.Context, jobs chan<- domain.DeliveryJob) {
	err, items := f.Queue.ReadPendingDeliveries(pollBatchSize)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to read queue: %v", err)
		return
	}
	if items == nil || len(*items) == 0 {
		return
	}

	log.Printf("DeliveryWorker: Processing %d pending deliveries", len(*items))
	for _, item := range *items {
		// Lease the job before dispatch; a job that is skipped here stays
		// due and is picked up again by a later poll.
		if err := f.Queue.UpdateDeliveryAttempt(item.Id, item.Attempts, time.Now().Add(deliveryLease)); err != nil {
			log.Printf("DeliveryWorker: Failed to lease delivery %s: %v", item.Id, err)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case jobs <- item:
		}
	}
}

// ProcessDelivery executes one delivery job attempt and settles its fate:
// skip, success, permanent failure, or scheduled retry.
func (f *Federation) ProcessDelivery(ctx context.Context, job *domain.DeliveryJob) deliveryOutcome {
	host := hostOf(job.InboxURI)

	if f.HostBlocked(host) {
		log.Printf("DeliveryWorker: Skipping delivery to blocked host %s", host)
		f.Queue.DeleteDelivery(job.Id)
		return outcomeSkipBlocked
	}

	if f.suspended.IsSuspended(host) {
		log.Printf("DeliveryWorker: Skipping delivery to suspended host %s", host)
		f.Queue.DeleteDelivery(job.Id)
		return outcomeSkipSuspended
	}

	err := f.SignedPostRaw(ctx, job.ActorId, job.InboxURI, []byte(job.ActivityJSON))
	if err == nil {
		log.Printf("DeliveryWorker: Successfully delivered to %s", job.InboxURI)
		f.Queue.DeleteDelivery(job.Id)
		f.reportDelivery(host, true)
		return outcomeSuccess
	}

	f.reportDelivery(host, false)

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.IsClientError() {
		// The destination rejected the activity permanently. A 410 on a
		// shared inbox means the whole instance is gone.
		if job.SharedInbox && statusErr.Code == 410 {
			log.Printf("DeliveryWorker: Host %s is gone, suspending", host)
			f.suspendPeer(host)
		}
		log.Printf("DeliveryWorker: Giving up on delivery to %s: %v", job.InboxURI, err)
		f.Queue.DeleteDelivery(job.Id)
		return outcomeUnrecoverable
	}

	// Server errors and transport failures are transient; retry with
	// backoff until the attempt budget runs out.
	job.Attempts++
	if job.Attempts >= maxAttempts {
		log.Printf("DeliveryWorker: Giving up on delivery to %s after %d attempts", job.InboxURI, job.Attempts)
		f.Queue.DeleteDelivery(job.Id)
		return outcomeUnrecoverable
	}

	minutes := backoffMinutes[min(job.Attempts-1, len(backoffMinutes)-1)]
	nextRetry := time.Now().Add(time.Duration(minutes) * time.Minute)
	log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %dm: %v",
		job.InboxURI, job.Attempts, minutes, err)
	f.Queue.UpdateDeliveryAttempt(job.Id, job.Attempts, nextRetry)
	return outcomeRetry
}

// reportDelivery updates peer health and metrics in the background. These
// side effects are best-effort and must never change the job outcome.
func (f *Federation) reportDelivery(host string, succeeded bool) {
	if host == "" {
		return
	}
	go func() {
		defer func() { recover() }()

		notResponding := !succeeded
		if err := f.Peers.UpdatePeerHealth(host, nil, &notResponding); err != nil {
			log.Printf("DeliveryWorker: Failed to update peer health for %s: %v", host, err)
		}
		if err := f.Peers.TouchPeer(host, time.Now()); err != nil {
			log.Printf("DeliveryWorker: Failed to touch peer %s: %v", host, err)
		}
		if f.Metrics != nil {
			if succeeded {
				f.Metrics.DeliverySucceeded(host)
			} else {
				f.Metrics.DeliveryFailed(host)
			}
		}
	}()
}

// suspendPeer permanently suspends a peer and refreshes the local cache
// so subsequent jobs skip it immediately.
func (f *Federation) suspendPeer(host string) {
	suspended := true
	if err := f.Peers.UpdatePeerHealth(host, &suspended, nil); err != nil {
		log.Printf("DeliveryWorker: Failed to suspend peer %s: %v", host, err)
		return
	}
	f.suspended.MarkSuspended(host)
}

// suspendedHostCache is a short-lived, read-mostly cache over the peer
// store, refreshed lazily. Staleness only costs one avoidable delivery
// attempt, so refresh races are acceptable.
type suspendedHostCache struct {
	mu        sync.RWMutex
	store     PeerStore
	ttl       time.Duration
	hosts     map[string]struct{}
	fetchedAt time.Time
}

func newSuspendedHostCache(store PeerStore, ttl time.Duration) *suspendedHostCache {
	return &suspendedHostCache{
		store: store,
		ttl:   ttl,
		hosts: make(map[string]struct{}),
	}
}

// IsSuspended reports whether host is suspended, refreshing the cache
// when it has expired.
func (c *suspendedHostCache) IsSuspended(host string) bool {
	c.mu.RLock()
	fresh := time.Since(c.fetchedAt) < c.ttl
	_, suspended := c.hosts[host]
	c.mu.RUnlock()

	if fresh {
		return suspended
	}

	if err := c.Refresh(); err != nil {
		log.Printf("DeliveryWorker: Failed to refresh suspended hosts: %v", err)
		return suspended
	}

	c.mu.RLock()
	_, suspended = c.hosts[host]
	c.mu.RUnlock()
	return suspended
}

// Refresh reloads the suspended host set from the peer store.
func (c *suspendedHostCache) Refresh() error {
	err, peers := c.store.ReadSuspendedPeers()
	if err != nil {
		return err
	}

	hosts := make(map[string]struct{}, len(*peers))
	for _, peer := range *peers {
		hosts[peer.Host] = struct{}{}
	}

	c.mu.Lock()
	c.hosts = hosts
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// MarkSuspended adds a host to the cached set without waiting for the
// next refresh.
func (c *suspendedHostCache) MarkSuspended(host string) {
	c.mu.Lock()
	c.hosts[host] = struct{}{}
	c.mu.Unlock()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
