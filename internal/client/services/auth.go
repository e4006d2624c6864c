// Package services contains application services for the sessionkeeper
// client. AuthService drives the remote session and keeps the current token
// pair in the local SQLite metadata table, so a restarted CLI resumes the
// session and a rotated refresh token is never lost.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/client"
	"github.com/dmitrijs2005/sessionkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	pb "github.com/dmitrijs2005/sessionkeeper/internal/proto"
)

const (
	keyUserName     = "username"
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyUserID       = "user_id"
)

var sessionKeys = []string{keyUserName, keyAccessToken, keyRefreshToken, keyUserID}

// AuthService defines the session operations offered by the CLI.
type AuthService interface {
	// Restore loads a saved session into the client. It returns the saved
	// user name, or "" when there is none.
	Restore(ctx context.Context) (string, error)
	Register(ctx context.Context, userName, password string) (int64, error)
	Login(ctx context.Context, userName, password string) error
	Refresh(ctx context.Context) error
	Logout(ctx context.Context) error
	LogoutAll(ctx context.Context) (int64, error)
	ChangePassword(ctx context.Context, oldPassword, newPassword string) error
	WhoAmI(ctx context.Context) (int64, error)
	Sessions(ctx context.Context) ([]pb.SessionInfo, error)
	UserName(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

type authService struct {
	client client.Client
	db     *sql.DB
	logger logging.Logger
}

// NewAuthService binds the API client to the local session database. Every
// pair the client obtains by refreshing is written to db before it is used.
func NewAuthService(c client.Client, db *sql.DB, logger logging.Logger) AuthService {
	a := &authService{client: c, db: db, logger: logger}
	c.OnTokensRotated(a.onRotated)
	return a
}

func (a *authService) getMetadataRepo() metadata.Repository {
	return metadata.NewSQLiteRepository(a.db)
}

func (a *authService) onRotated(ctx context.Context, tokens pb.TokenPair) {
	if err := a.saveTokens(ctx, tokens); err != nil {
		a.logger.Error(ctx, "saving rotated tokens", "error", err)
	}
}

func (a *authService) saveTokens(ctx context.Context, tokens pb.TokenPair) error {
	return dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)
		if err := repo.Set(ctx, keyAccessToken, []byte(tokens.AccessToken)); err != nil {
			return err
		}
		if err := repo.Set(ctx, keyRefreshToken, []byte(tokens.RefreshToken)); err != nil {
			return err
		}
		return repo.Set(ctx, keyUserID, []byte(strconv.FormatInt(tokens.UserID, 10)))
	})
}

func (a *authService) saveSession(ctx context.Context, userName string, tokens pb.TokenPair) error {
	if err := a.getMetadataRepo().Set(ctx, keyUserName, []byte(userName)); err != nil {
		return err
	}
	return a.saveTokens(ctx, tokens)
}

func (a *authService) clearSession(ctx context.Context) error {
	a.client.SetTokens(pb.TokenPair{})
	return a.getMetadataRepo().Delete(ctx, sessionKeys...)
}

func (a *authService) Restore(ctx context.Context) (string, error) {
	m, err := a.getMetadataRepo().List(ctx)
	if err != nil {
		return "", err
	}

	refresh := string(m[keyRefreshToken])
	if refresh == "" {
		return "", nil
	}

	tokens := pb.TokenPair{AccessToken: string(m[keyAccessToken]), RefreshToken: refresh}
	if raw := string(m[keyUserID]); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return "", fmt.Errorf("saved user id: %w", err)
		}
		tokens.UserID = id
	}

	a.client.SetTokens(tokens)
	return string(m[keyUserName]), nil
}

func (a *authService) Register(ctx context.Context, userName, password string) (int64, error) {
	return a.client.Register(ctx, userName, password)
}

// Login replaces any saved session with a fresh one.
func (a *authService) Login(ctx context.Context, userName, password string) error {
	tokens, err := a.client.Login(ctx, userName, password)
	if err != nil {
		return fmt.Errorf("login error: %w", err)
	}

	if err := a.saveSession(ctx, userName, tokens); err != nil {
		return fmt.Errorf("session saving error: %w", err)
	}
	return nil
}

// Refresh rotates the refresh token explicitly. The new pair is saved by
// the rotation callback. A rejected token ends the local session.
func (a *authService) Refresh(ctx context.Context) error {
	_, err := a.client.Refresh(ctx)
	return a.dropOnUnauthorized(ctx, err)
}

// Logout revokes the current refresh token. The local session is cleared
// even if the server could not be told.
func (a *authService) Logout(ctx context.Context) error {
	err := a.client.Logout(ctx)
	if clearErr := a.clearSession(ctx); clearErr != nil {
		return errors.Join(err, clearErr)
	}
	return err
}

func (a *authService) LogoutAll(ctx context.Context) (int64, error) {
	n, err := a.client.LogoutAll(ctx)
	if err != nil {
		return 0, a.dropOnUnauthorized(ctx, err)
	}
	return n, a.clearSession(ctx)
}

// ChangePassword ends every session of the user, this one included.
func (a *authService) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	if err := a.client.ChangePassword(ctx, oldPassword, newPassword); err != nil {
		return a.dropOnUnauthorized(ctx, err)
	}
	return a.clearSession(ctx)
}

func (a *authService) WhoAmI(ctx context.Context) (int64, error) {
	id, err := a.client.WhoAmI(ctx)
	if err != nil {
		return 0, a.dropOnUnauthorized(ctx, err)
	}
	return id, nil
}

func (a *authService) Sessions(ctx context.Context) ([]pb.SessionInfo, error) {
	sessions, err := a.client.Sessions(ctx)
	if err != nil {
		return nil, a.dropOnUnauthorized(ctx, err)
	}
	return sessions, nil
}

func (a *authService) UserName(ctx context.Context) (string, error) {
	v, err := a.getMetadataRepo().Get(ctx, keyUserName)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (a *authService) Close(ctx context.Context) error {
	return a.client.Close()
}

// dropOnUnauthorized clears the saved session when the server refused the
// refresh token too, since it can never be used again.
func (a *authService) dropOnUnauthorized(ctx context.Context, err error) error {
	if !errors.Is(err, client.ErrUnauthorized) && !errors.Is(err, client.ErrNotLoggedIn) {
		return err
	}
	if clearErr := a.clearSession(ctx); clearErr != nil {
		return errors.Join(err, clearErr)
	}
	return err
}
