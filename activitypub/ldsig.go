package activitypub

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

const ldSignatureType = "RsaSignature2017"

// AttachLDSignature embeds an RsaSignature2017-style signature into the
// activity, proving the creator's key signed the document itself (not
// just the HTTP exchange), which relays require before rebroadcasting.
//
// The signed hash is sha256(options-doc) || sha256(document-without-
// signature), each over canonical JSON (Go's map marshalling emits keys
// in sorted order, which both ends of this implementation rely on).
func AttachLDSignature(activity map[string]interface{}, creator string, privateKeyPem string) error {
	privateKey, err := ParsePrivateKey(privateKeyPem)
	if err != nil {
		return err
	}

	options := map[string]interface{}{
		"type":    ldSignatureType,
		"creator": creator,
		"created": time.Now().UTC().Format(time.RFC3339),
	}

	hashed, err := ldSignatureHash(activity, options)
	if err != nil {
		return err
	}

	signature, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, hashed)
	if err != nil {
		return fmt.Errorf("failed to sign document: %w", err)
	}

	options["signatureValue"] = base64.StdEncoding.EncodeToString(signature)
	activity["signature"] = options
	return nil
}

// VerifyLDSignature checks an embedded document signature against the
// creator's public key.
func VerifyLDSignature(activity map[string]interface{}, publicKeyPem string) error {
	publicKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return err
	}

	embedded, ok := activity["signature"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("document has no signature")
	}
	signatureValue, _ := embedded["signatureValue"].(string)
	signature, err := base64.StdEncoding.DecodeString(signatureValue)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}

	options := make(map[string]interface{}, len(embedded))
	for key, value := range embedded {
		if key != "signatureValue" {
			options[key] = value
		}
	}

	hashed, err := ldSignatureHash(activity, options)
	if err != nil {
		return err
	}

	if err := rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, hashed, signature); err != nil {
		return fmt.Errorf("document signature verification failed: %w", err)
	}
	return nil
}

func ldSignatureHash(activity map[string]interface{}, options map[string]interface{}) ([]byte, error) {
	document := make(map[string]interface{}, len(activity))
	for key, value := range activity {
		if key != "signature" {
			document[key] = value
		}
	}

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signature options: %w", err)
	}
	documentJSON, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	optionsHash := sha256.Sum256(optionsJSON)
	documentHash := sha256.Sum256(documentJSON)

	combined := sha256.Sum256(append(optionsHash[:], documentHash[:]...))
	return combined[:], nil
}
