package domain

import (
	"fmt"
	"github.com/google/uuid"
	"time"
)

// Account represents a local actor capable of signing outbound requests.
// Host is empty for local accounts; a non-empty host means the account
// lives on another instance and must never be used for signing.
type Account struct {
	Id            uuid.UUID
	Username      string
	Host          string
	DisplayName   string
	Summary       string
	PublicKeyPem  string
	PrivateKeyPem string
	CreatedAt     time.Time
}

// IsLocal reports whether the account belongs to this instance.
func (acc *Account) IsLocal() bool {
	return acc.Host == ""
}

func (acc *Account) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tHost: %s \n\tCreatedAt: %s)", acc.Id, acc.Username, acc.Host, acc.CreatedAt)
}
