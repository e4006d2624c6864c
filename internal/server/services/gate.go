package services

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
)

// AccessTokenDecoder verifies access tokens; *auth.Codec satisfies it.
type AccessTokenDecoder interface {
	Decode(token string) (int64, error)
}

// UserStore is what the gate needs from the account store.
type UserStore interface {
	// FindByID returns the user or an error wrapping common.ErrorNotFound.
	FindByID(ctx context.Context, id int64) (*models.User, error)
	VerifyPassword(user *models.User, plaintext string) bool
}

// AuthenticationGate turns an authorization header into a user id.
// It is stateless and safe for concurrent use.
type AuthenticationGate struct {
	codec AccessTokenDecoder
	users UserStore
}

func NewAuthenticationGate(codec AccessTokenDecoder, users UserStore) *AuthenticationGate {
	return &AuthenticationGate{codec: codec, users: users}
}

// Authenticate resolves a "Bearer <token>" header to an existing user id.
//
// The scheme is matched case-insensitively and exactly one token must follow
// it. Store failures other than a missing user are returned as is.
func (g *AuthenticationGate) Authenticate(ctx context.Context, header string) (int64, error) {
	token, err := parseBearer(header)
	if err != nil {
		return 0, err
	}

	userID, err := g.codec.Decode(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpired) {
			return 0, common.NewAuthError(common.KindCredentialExpired, err)
		}
		return 0, common.NewAuthError(common.KindInvalidCredential, err)
	}

	if _, err := g.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return 0, common.NewAuthError(common.KindSubjectNotFound, err)
		}
		return 0, err
	}

	return userID, nil
}

func parseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", common.ErrMissingCredential
	}

	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], common.BearerScheme) {
		return "", common.ErrMalformedCredential
	}
	return fields[1], nil
}
