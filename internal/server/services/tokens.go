// Package services contains server-side business logic: the refresh token
// protocol (TokenService), bearer authentication (AuthenticationGate) and
// account operations (UserService).
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/cryptox"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	UserID       int64
}

// AccessTokenEncoder mints access tokens; *auth.Codec satisfies it.
type AccessTokenEncoder interface {
	Encode(userID int64) (string, error)
}

// TokenService is the only writer of refresh token rows. It issues pairs,
// rotates refresh tokens single-use, and revokes a whole family when a
// consumed token comes back.
type TokenService struct {
	repomanager repomanager.RepositoryManager
	codec       AccessTokenEncoder
	refreshTTL  time.Duration
	secretLen   int
	logger      logging.Logger
	now         func() time.Time
}

// TokenServiceOption customises a TokenService.
type TokenServiceOption func(*TokenService)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) TokenServiceOption {
	return func(s *TokenService) { s.now = now }
}

// NewTokenService constructs a TokenService using repositories and server config.
func NewTokenService(m repomanager.RepositoryManager, codec AccessTokenEncoder, cfg *config.Config, logger logging.Logger, opts ...TokenServiceOption) *TokenService {
	s := &TokenService{
		repomanager: m,
		codec:       codec,
		refreshTTL:  cfg.RefreshTokenTTL,
		secretLen:   cfg.RefreshSecretByteLength,
		logger:      logger.With("module", "tokens"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssuePair starts a new refresh token family for userID.
func (s *TokenService) IssuePair(ctx context.Context, userID int64) (*TokenPair, error) {
	repo := s.repomanager.RefreshTokens(s.repomanager.Conn())

	raw, record, err := refreshtokens.NewToken(userID, "", s.refreshTTL, s.secretLen, s.now())
	if err != nil {
		return nil, err
	}
	access, err := s.codec.Encode(userID)
	if err != nil {
		return nil, err
	}
	if err := repo.Create(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Debug(ctx, "token pair issued", "user_id", userID, "family", record.Family)
	return &TokenPair{AccessToken: access, RefreshToken: raw, UserID: userID}, nil
}

// Refresh exchanges a refresh token for a new pair in the same family.
//
// Failures: common.ErrTokenInvalid for empty or unknown input,
// common.ErrTokenExpired for an expired but unrevoked token, and
// common.ErrTokenReused for a token that was already revoked or rotated,
// in which case the whole family has been revoked before returning.
// Losing a concurrent rotation of the same token counts as reuse.
func (s *TokenService) Refresh(ctx context.Context, rawRefreshToken string) (*TokenPair, error) {
	if rawRefreshToken == "" {
		return nil, common.ErrTokenInvalid
	}
	digest := cryptox.DigestToken(rawRefreshToken)

	var (
		pair     *TokenPair
		replayed *models.RefreshToken
	)

	err := s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.RefreshTokens(tx)

		current, err := repo.FindByDigestForUpdate(ctx, digest)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrTokenInvalid
			}
			return err
		}

		now := s.now()
		if current.Revoked() {
			replayed = current
			return common.ErrTokenReused
		}
		if current.Expired(now) {
			return common.ErrTokenExpired
		}

		raw, next, err := refreshtokens.NewToken(current.UserID, current.Family, s.refreshTTL, s.secretLen, now)
		if err != nil {
			return err
		}
		if err := repo.MarkRotated(ctx, current.ID, next.JTI, now); err != nil {
			if errors.Is(err, common.ErrConflict) {
				replayed = current
				return common.ErrTokenReused
			}
			return err
		}
		if err := repo.Create(ctx, next); err != nil {
			return err
		}
		access, err := s.codec.Encode(current.UserID)
		if err != nil {
			return err
		}

		pair = &TokenPair{AccessToken: access, RefreshToken: raw, UserID: current.UserID}
		return nil
	})

	switch {
	case err == nil:
		return pair, nil
	case replayed != nil:
		return nil, s.contain(ctx, replayed)
	case dbx.IsConcurrencyFailure(err):
		// the transaction lost to another one; if that one consumed this
		// token, this attempt is a replay
		current, findErr := s.repomanager.RefreshTokens(s.repomanager.Conn()).FindByDigest(ctx, digest)
		if findErr == nil && current.Revoked() {
			return nil, s.contain(ctx, current)
		}
		return nil, err
	default:
		return nil, err
	}
}

// contain revokes the family of a replayed token. It runs detached from the
// caller's cancellation so an abandoned request still closes the lineage.
func (s *TokenService) contain(ctx context.Context, replayed *models.RefreshToken) error {
	ctx = context.WithoutCancel(ctx)
	repo := s.repomanager.RefreshTokens(s.repomanager.Conn())

	n, err := repo.RevokeFamily(ctx, replayed.Family, s.now())
	if err != nil {
		s.logger.Error(ctx, "refresh token reuse detected, family revocation failed",
			"user_id", replayed.UserID, "family", replayed.Family, "jti", replayed.JTI, "error", err)
		return common.NewAuthError(common.KindTokenReused, fmt.Errorf("revoke family %s: %w", replayed.Family, err))
	}

	s.logger.Warn(ctx, "refresh token reuse detected, family revoked",
		"user_id", replayed.UserID, "family", replayed.Family, "jti", replayed.JTI, "revoked", n)
	return common.ErrTokenReused
}

// Revoke revokes a single refresh token. Unknown, empty or already revoked
// tokens are a no-op.
func (s *TokenService) Revoke(ctx context.Context, rawRefreshToken string) error {
	if rawRefreshToken == "" {
		return nil
	}
	repo := s.repomanager.RefreshTokens(s.repomanager.Conn())

	changed, err := repo.RevokeByDigest(ctx, cryptox.DigestToken(rawRefreshToken), s.now())
	if err != nil {
		return err
	}
	if changed {
		s.logger.Debug(ctx, "refresh token revoked")
	}
	return nil
}

// RevokeAllForUser revokes every active refresh token of userID and returns
// how many were revoked.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	return s.revokeAllForUser(ctx, s.repomanager.Conn(), userID)
}

// revokeAllForUser revokes on db, which may be a transaction of the caller.
func (s *TokenService) revokeAllForUser(ctx context.Context, db dbx.DBTX, userID int64) (int64, error) {
	n, err := s.repomanager.RefreshTokens(db).RevokeAllForUser(ctx, userID, s.now())
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "all refresh tokens revoked", "user_id", userID, "revoked", n)
	return n, nil
}

// Sessions lists the active refresh token rows of userID.
func (s *TokenService) Sessions(ctx context.Context, userID int64) ([]*models.RefreshToken, error) {
	repo := s.repomanager.RefreshTokens(s.repomanager.Conn())
	return repo.ListActiveByUser(ctx, userID, s.now())
}
