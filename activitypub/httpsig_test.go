package activitypub

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
	"testing"
	"time"
)

func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	return privateKey, &privateKey.PublicKey
}

func publicKeyToPEM(t *testing.T, key *rsa.PublicKey) string {
	t.Helper()
	keyBytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: keyBytes,
	}))
}

func TestNewSignedPostHeaders(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t)
	body := []byte(`{"type":"Create"}`)
	date := time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")

	req, err := NewSignedPost("https://remote.example/inbox", body, date, nil, privateKey, "https://example.com/users/alice#main-key")
	if err != nil {
		t.Fatalf("NewSignedPost failed: %v", err)
	}

	hash := sha256.Sum256(body)
	if got := req.Header.Get("Digest"); got != "SHA-256="+base64.StdEncoding.EncodeToString(hash[:]) {
		t.Errorf("Digest header mismatch: %s", got)
	}
	if got := req.Header.Get("Content-Type"); got != "application/activity+json" {
		t.Errorf("Content-Type not defaulted: %s", got)
	}
	if got := req.Header.Get("Date"); got != date {
		t.Errorf("Date header mismatch: %s", got)
	}

	signature := req.Header.Get("Signature")
	if !strings.Contains(signature, `keyId="https://example.com/users/alice#main-key"`) {
		t.Errorf("Signature missing keyId: %s", signature)
	}
	if !strings.Contains(signature, `headers="(request-target) date host digest"`) {
		t.Errorf("Signature missing header list: %s", signature)
	}
}

func TestNewSignedGetHeaders(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t)
	date := time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")

	req, err := NewSignedGet("https://remote.example/users/bob", date, nil, privateKey, "https://example.com/users/alice#main-key")
	if err != nil {
		t.Fatalf("NewSignedGet failed: %v", err)
	}

	if got := req.Header.Get("Accept"); got != AcceptHeader {
		t.Errorf("Accept not defaulted: %s", got)
	}
	if got := req.Header.Get("Digest"); got != "" {
		t.Errorf("GET must not carry a Digest header, got %s", got)
	}
	signature := req.Header.Get("Signature")
	if !strings.Contains(signature, `headers="(request-target) date host accept"`) {
		t.Errorf("GET signature must cover accept: %s", signature)
	}
}

// The signature must cover the URL path only, never the query string.
func TestSignedGetIgnoresQueryString(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t)
	date := "Mon, 02 Jan 2006 15:04:05 GMT"

	req, err := NewSignedGet("https://remote.example/users/bob?page=2", date, nil, privateKey, "key-1")
	if err != nil {
		t.Fatalf("NewSignedGet failed: %v", err)
	}

	signingString := fmt.Sprintf("(request-target): get /users/bob\ndate: %s\nhost: remote.example\naccept: %s", date, AcceptHeader)
	hashed := sha256.Sum256([]byte(signingString))

	signature := req.Header.Get("Signature")
	marker := `signature="`
	idx := strings.Index(signature, marker)
	if idx < 0 {
		t.Fatalf("No signature parameter in %s", signature)
	}
	encoded := signature[idx+len(marker):]
	encoded = encoded[:strings.Index(encoded, `"`)]
	sig, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("Signature is not valid base64: %v", err)
	}

	if err := rsa.VerifyPKCS1v15(&privateKey.PublicKey, crypto.SHA256, hashed[:], sig); err != nil {
		t.Errorf("Signature does not cover the expected canonical string: %v", err)
	}
}

func TestSignedPostVerifyRoundtrip(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	publicPEM := publicKeyToPEM(t, publicKey)

	body := []byte(`{"type":"Create","object":{}}`)
	date := time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
	keyId := "https://example.com/users/alice#main-key"

	req, err := NewSignedPost("https://remote.example/users/bob/inbox", body, date, nil, privateKey, keyId)
	if err != nil {
		t.Fatalf("NewSignedPost failed: %v", err)
	}

	actorURI, err := VerifyRequest(req, publicPEM)
	if err != nil {
		t.Fatalf("VerifyRequest failed: %v", err)
	}
	if actorURI != "https://example.com/users/alice" {
		t.Errorf("Expected actor URI without fragment, got %s", actorURI)
	}
}

func TestVerifyRequestWrongKey(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t)
	_, otherPublic := generateTestKeyPair(t)
	otherPEM := publicKeyToPEM(t, otherPublic)

	body := []byte(`{"type":"Create"}`)
	date := time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")

	req, err := NewSignedPost("https://remote.example/inbox", body, date, nil, privateKey, "key-1")
	if err != nil {
		t.Fatalf("NewSignedPost failed: %v", err)
	}

	if _, err := VerifyRequest(req, otherPEM); err == nil {
		t.Error("Expected verification to fail with wrong public key")
	}
}

func TestParsePrivateKeyInvalidPEM(t *testing.T) {
	if _, err := ParsePrivateKey("not a valid PEM"); err == nil {
		t.Error("Expected error for invalid PEM")
	}
}

func TestParsePublicKeyInvalidPEM(t *testing.T) {
	if _, err := ParsePublicKey("not a valid PEM"); err == nil {
		t.Error("Expected error for invalid PEM")
	}
}

func TestParseKeyRoundtrip(t *testing.T) {
	privPEM, pubPEM := testKeyPEMs(t)

	privateKey, err := ParsePrivateKey(privPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}
	publicKey, err := ParsePublicKey(pubPEM)
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	if privateKey.N.Cmp(publicKey.N) != 0 {
		t.Error("Parsed keys do not belong to the same pair")
	}
}
