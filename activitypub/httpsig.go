package activitypub

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"code.superseriousbusiness.org/httpsig"
)

// Headers covered by outbound signatures, in signing order. The order is
// part of the wire contract and must not change.
var (
	postSignedHeaders = []string{"(request-target)", "date", "host", "digest"}
	getSignedHeaders  = []string{"(request-target)", "date", "host", "accept"}
)

// SignRequest signs an outgoing HTTP request in place, covering the given
// headers. body must be the exact payload the request carries; the signer
// derives the Digest header from it. Pass nil for bodyless requests.
// keyId format: "https://example.com/users/alice#main-key"
func SignRequest(req *http.Request, headers []string, body []byte, privateKey *rsa.PrivateKey, keyId string) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		headers,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequestWithOptions(privateKey, keyId, req, body, httpsig.SignatureOption{
		ExcludeQueryStringFromPathPseudoHeader: true,
	})
}

// NewSignedPost creates a POST request carrying the given body, with
// Digest and Signature headers set. extra headers are applied before
// signing; Date always takes the canonical value.
func NewSignedPost(uri string, body []byte, date string, extra map[string]string, privateKey *rsa.PrivateKey, keyId string) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodPost, uri, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for name, value := range extra {
		req.Header.Set(name, value)
	}
	req.Header.Set("Date", date)
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/activity+json")
	}
	req.Host = req.URL.Host
	req.Header.Set("Host", req.URL.Host)

	if err := SignRequest(req, postSignedHeaders, body, privateKey, keyId); err != nil {
		return nil, err
	}
	return req, nil
}

// NewSignedGet creates a GET request with a Signature header covering the
// Accept header, for servers that require authorized fetch.
func NewSignedGet(uri string, date string, extra map[string]string, privateKey *rsa.PrivateKey, keyId string) (*http.Request, error) {
	req, err := http.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for name, value := range extra {
		req.Header.Set(name, value)
	}
	req.Header.Set("Date", date)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", AcceptHeader)
	}
	req.Host = req.URL.Host
	req.Header.Set("Host", req.URL.Host)

	if err := SignRequest(req, getSignedHeaders, nil, privateKey, keyId); err != nil {
		return nil, err
	}
	return req, nil
}

// VerifyRequest verifies the HTTP signature on an incoming request
// Returns the actor URI if valid, error otherwise
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	rsaPubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	keyId := verifier.KeyId()
	if err := verifier.Verify(rsaPubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	// keyId is usually "https://example.com/users/alice#main-key",
	// the actor URI is the part before the fragment
	actorURI := strings.Split(keyId, "#")[0]

	return actorURI, nil
}

// ParsePrivateKey converts PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
