package auth

import "context"

// Store is the persistence interface for users, tokens and permission
// grants. It is implemented by the same SQLite and PostgreSQL stores that
// back website storage.
type Store interface {
	// InsertUser inserts a user and fills in its ID. Returns
	// storage.ErrDuplicateUsername when the username is taken.
	InsertUser(ctx context.Context, user *User) error

	// GetUserByUsername looks a user up by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// GetUserForToken returns the user owning an unexpired token with the
	// given scope and plaintext.
	GetUserForToken(ctx context.Context, scope, tokenPlaintext string) (*User, error)

	// InsertToken stores a token.
	InsertToken(ctx context.Context, token *Token) error

	// DeleteTokensForUser removes all tokens of one scope for a user.
	DeleteTokensForUser(ctx context.Context, scope string, userID int) error

	// Grant gives a user a permission on a website. Returns
	// storage.ErrDuplicateGrant when the grant already exists.
	Grant(ctx context.Context, userID, websiteID int, permission Permission) error

	// Revoke removes a grant. Returns storage.ErrNotFound when the grant
	// does not exist.
	Revoke(ctx context.Context, userID, websiteID int, permission Permission) error

	// Allows reports whether the user holds the permission on the website.
	// Only the exact (user, website, permission) triple matches.
	Allows(ctx context.Context, userID, websiteID int, permission Permission) (bool, error)
}
