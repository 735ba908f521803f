package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"time"

	"golang.org/x/crypto/argon2"
)

// User represents a Vigil user
type User struct {
	ID        int       `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Username  string    `json:"username"`
	Password  Password  `json:"-"` // Hidden from JSON
}

// Anonymous user for unauthenticated requests
var AnonymousUser = &User{}

// IsAnonymous checks if the user is anonymous
func (u *User) IsAnonymous() bool {
	return u == AnonymousUser
}

// Argon2id parameters
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// Password represents an argon2id-hashed password. Hash and Salt are
// exported so stores can persist them; the plaintext never leaves the
// process.
type Password struct {
	plaintext *string // Pointer to distinguish nil from empty
	Hash      []byte
	Salt      []byte
}

// Set hashes and stores a plaintext password with a fresh random salt
func (p *Password) Set(plaintextPassword string) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return err
	}

	p.plaintext = &plaintextPassword
	p.Salt = salt
	p.Hash = argon2.IDKey([]byte(plaintextPassword), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return nil
}

// Matches checks if a plaintext password matches the stored hash
func (p *Password) Matches(plaintextPassword string) bool {
	candidate := argon2.IDKey([]byte(plaintextPassword), p.Salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(p.Hash, candidate) == 1
}

// Token represents an authentication token
type Token struct {
	Plaintext string    `json:"token"`
	Hash      []byte    `json:"-"`
	UserID    int       `json:"-"`
	Expiry    time.Time `json:"expiry"`
	Scope     string    `json:"-"`
}

// Token scopes
const (
	ScopeAuthentication = "authentication"
)

// generateToken creates a new token for a user
func generateToken(userID int, ttl time.Duration, scope string) (*Token, error) {
	token := &Token{
		UserID: userID,
		Expiry: time.Now().UTC().Add(ttl),
		Scope:  scope,
	}

	randomBytes := make([]byte, 16)
	_, err := rand.Read(randomBytes)
	if err != nil {
		return nil, err
	}

	// Encode as base32 (26 characters)
	token.Plaintext = base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(randomBytes)

	// Hash the token for storage
	hash := sha256.Sum256([]byte(token.Plaintext))
	token.Hash = hash[:]

	return token, nil
}

// Permission is a named capability a user can hold on a single website.
// Holding one permission never implies another.
type Permission string

// Website permissions
const (
	PermissionRead         Permission = "read"
	PermissionCreateModify Permission = "create_modify"
)

// Valid reports whether p is a known permission
func (p Permission) Valid() bool {
	switch p {
	case PermissionRead, PermissionCreateModify:
		return true
	}
	return false
}
