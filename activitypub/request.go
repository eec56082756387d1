package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// AcceptHeader is sent on every outbound fetch of protocol objects.
	AcceptHeader = "application/activity+json, application/ld+json"

	requestTimeout = 30 * time.Second
	userAgent      = "mammut/ActivityPub"
)

// StatusError is returned when a remote server answers with a non-2xx
// status. Transport-level failures (DNS, socket, timeout) are returned
// unchanged instead.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote server returned status %d: %s", e.Code, e.Message)
}

// IsClientError reports whether the status code is in the 4xx range.
func (e *StatusError) IsClientError() bool {
	return e.Code >= 400 && e.Code < 500
}

// newPooledClient builds the shared outbound HTTP client. Connections are
// pooled per host; one hung peer must not stall the worker pool, so every
// request carries its own timeout.
func newPooledClient() *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// SignedPost serializes object to JSON and delivers it to the inbox URI,
// signed by the given local actor. The actor's private key is fetched from
// the account store on every call.
func (f *Federation) SignedPost(ctx context.Context, actorId uuid.UUID, inboxURI string, object interface{}) error {
	body, err := json.Marshal(object)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	return f.SignedPostRaw(ctx, actorId, inboxURI, body)
}

// SignedPostRaw delivers an already-serialized activity body.
func (f *Federation) SignedPostRaw(ctx context.Context, actorId uuid.UUID, inboxURI string, body []byte) error {
	err, acc := f.Accounts.ReadAccById(actorId)
	if err != nil {
		return fmt.Errorf("failed to get local account: %w", err)
	}

	privateKey, err := ParsePrivateKey(acc.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	date := time.Now().UTC().Format(http.TimeFormat)
	extra := map[string]string{
		"User-Agent": userAgent,
		"Accept":     "application/activity+json",
	}
	req, err := NewSignedPost(inboxURI, body, date, extra, privateKey, f.KeyId(acc.Username))
	if err != nil {
		return err
	}

	resp, err := f.Client.Do(req.WithContext(ctx))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Message: resp.Status}
	}

	return nil
}

// SignedGet fetches a protocol object with a signed GET, for peers that
// require authorized fetch, and returns the parsed JSON body.
func (f *Federation) SignedGet(ctx context.Context, uri string, actorId uuid.UUID) (map[string]interface{}, error) {
	err, acc := f.Accounts.ReadAccById(actorId)
	if err != nil {
		return nil, fmt.Errorf("failed to get local account: %w", err)
	}

	privateKey, err := ParsePrivateKey(acc.PrivateKeyPem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	date := time.Now().UTC().Format(http.TimeFormat)
	extra := map[string]string{"User-Agent": userAgent}
	req, err := NewSignedGet(uri, date, extra, privateKey, f.KeyId(acc.Username))
	if err != nil {
		return nil, err
	}

	return f.doGet(ctx, req)
}

// PlainGet fetches a protocol object with an unsigned GET.
func (f *Federation) PlainGet(ctx context.Context, uri string) (map[string]interface{}, error) {
	req, err := http.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", AcceptHeader)
	req.Header.Set("User-Agent", userAgent)

	return f.doGet(ctx, req)
}

func (f *Federation) doGet(ctx context.Context, req *http.Request) (map[string]interface{}, error) {
	resp, err := f.Client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Message: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var object map[string]interface{}
	if err := json.Unmarshal(body, &object); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return object, nil
}
