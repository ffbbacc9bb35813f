package schemas

import (
	"time"
)

// -- Vault Record Schemas --

// Credential is a full per-service credential record held by the vault.
// It is written once per service per agent and overwritten on re-registration.
type Credential struct {
	// Service is the registrable host the credential belongs to. It is the
	// upsert key within a vault.
	Service  string `json:"service"`
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
	// Cookies is an opaque serialized cookie jar captured at registration or
	// refreshed after a later login.
	Cookies string `json:"cookies,omitempty"`
	// RegisteredAt is stamped by the vault on first insert and preserved on
	// every subsequent update.
	RegisteredAt time.Time `json:"registered_at"`
}

// CredentialInfo is the listing view of a credential. It deliberately has no
// password or cookie fields so that enumeration never leaks secret material.
type CredentialInfo struct {
	Service      string    `json:"service"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// IdentityStatus marks whether an identity is usable.
type IdentityStatus string

const (
	IdentityActive  IdentityStatus = "active"
	IdentityRevoked IdentityStatus = "revoked"
)

// Passport is the public half of an agent identity: who the agent claims to
// be plus trust metadata. It carries no secret material.
type Passport struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Email      string            `json:"email,omitempty"`
	TrustLevel string            `json:"trust_level,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	IssuedAt   time.Time         `json:"issued_at,omitempty"`
}

// StoredIdentity pairs a passport with the agent's private key. The private
// key is the root secret the vault encryption key is derived from and must
// never appear in a listing.
type StoredIdentity struct {
	Passport   Passport       `json:"passport"`
	PrivateKey string         `json:"private_key"`
	Status     IdentityStatus `json:"status"`
}

// IdentityInfo is the listing view of an identity, private key excluded.
type IdentityInfo struct {
	Passport Passport       `json:"passport"`
	Status   IdentityStatus `json:"status"`
}
