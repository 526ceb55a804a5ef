package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// ErrUserLoaderUnavailable indicates that the identity was created without a user loader.
var ErrUserLoaderUnavailable = errors.New("auth: user loader not configured")

// UserLoader fetches the Firebase user profile corresponding to a UID.
type UserLoader func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)

// Identity is the signed-in shopper extracted from a verified Firebase ID token.
type Identity struct {
	UID    string
	Email  string
	Phone  string
	Locale string

	token      *firebaseauth.Token
	userLoader UserLoader
	once       sync.Once
	userRecord *firebaseauth.UserRecord
	userErr    error
}

// Token exposes the decoded Firebase ID token associated with this identity.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// User resolves the Firebase user profile on first access and memoises the result.
func (i *Identity) User(ctx context.Context) (*firebaseauth.UserRecord, error) {
	if i == nil || i.userLoader == nil {
		return nil, ErrUserLoaderUnavailable
	}
	i.once.Do(func() {
		i.userRecord, i.userErr = i.userLoader(ctx, i.UID)
	})
	return i.userRecord, i.userErr
}

// Contact returns the email and phone used to prefill payment sheets. Token claims are
// preferred; the user record fills gaps when a loader is configured.
func (i *Identity) Contact(ctx context.Context) (email, phone string) {
	if i == nil {
		return "", ""
	}
	email, phone = i.Email, i.Phone
	if email != "" && phone != "" {
		return email, phone
	}
	record, err := i.User(ctx)
	if err != nil || record == nil || record.UserInfo == nil {
		return email, phone
	}
	if email == "" {
		email = strings.TrimSpace(record.Email)
	}
	if phone == "" {
		phone = strings.TrimSpace(record.PhoneNumber)
	}
	return email, phone
}

type contextKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
