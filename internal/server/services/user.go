package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/cryptox"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
)

const (
	// MinPasswordLength is the shortest accepted password, in bytes.
	MinPasswordLength = 10
	// MaxUserNameLength bounds the username column.
	MaxUserNameLength = 64
)

// UserService owns account registration, login and password changes.
type UserService struct {
	repomanager repomanager.RepositoryManager
	tokens      *TokenService
	logger      logging.Logger
}

// NewUserService constructs a UserService. Pair issuance and session
// revocation are delegated to tokens.
func NewUserService(m repomanager.RepositoryManager, tokens *TokenService, logger logging.Logger) *UserService {
	return &UserService{
		repomanager: m,
		tokens:      tokens,
		logger:      logger.With("module", "users"),
	}
}

// Register creates an account. A taken username yields common.ErrAlreadyExists.
func (s *UserService) Register(ctx context.Context, userName, password string) (*models.User, error) {
	userName = strings.TrimSpace(userName)
	if err := validateUserName(userName); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	salt := cryptox.NewSalt()
	user := &models.User{
		UserName:     userName,
		Salt:         salt,
		PasswordHash: cryptox.HashPassword([]byte(password), salt),
	}

	repo := s.repomanager.Users(s.repomanager.Conn())
	created, err := repo.Create(ctx, user)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "user registered", "user_id", created.ID)
	return created, nil
}

// Login checks credentials and issues a new token pair. Unknown users and
// wrong passwords both yield common.ErrorUnauthorized after the same amount
// of hashing work.
func (s *UserService) Login(ctx context.Context, userName, password string) (*TokenPair, error) {
	repo := s.repomanager.Users(s.repomanager.Conn())

	user, err := repo.GetUserByLogin(ctx, strings.TrimSpace(userName))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			cryptox.VerifyPassword(nil, cryptox.NewSalt(), []byte(password))
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}

	if !s.VerifyPassword(user, password) {
		s.logger.Info(ctx, "login rejected", "user_id", user.ID)
		return nil, common.ErrorUnauthorized
	}

	return s.tokens.IssuePair(ctx, user.ID)
}

// ChangePassword replaces the password of userID and revokes all of the
// user's refresh tokens in the same transaction, so either both happen or
// neither does.
func (s *UserService) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	user, err := s.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !s.VerifyPassword(user, oldPassword) {
		return fmt.Errorf("%w: old password does not match", common.ErrorForbidden)
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	salt := cryptox.NewSalt()
	hash := cryptox.HashPassword([]byte(newPassword), salt)

	return s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).UpdatePassword(ctx, userID, salt, hash); err != nil {
			return err
		}
		if _, err := s.tokens.revokeAllForUser(ctx, tx, userID); err != nil {
			return fmt.Errorf("revoking sessions: %w", err)
		}
		return nil
	})
}

// FindByID returns the user or an error wrapping common.ErrorNotFound.
func (s *UserService) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return s.repomanager.Users(s.repomanager.Conn()).GetUserByID(ctx, id)
}

// VerifyPassword reports whether plaintext matches the user's stored hash.
func (s *UserService) VerifyPassword(user *models.User, plaintext string) bool {
	return cryptox.VerifyPassword(user.PasswordHash, user.Salt, []byte(plaintext))
}

func validateUserName(userName string) error {
	if userName == "" {
		return fmt.Errorf("%w: username is required", common.ErrorValidation)
	}
	if len(userName) > MaxUserNameLength {
		return fmt.Errorf("%w: username longer than %d bytes", common.ErrorValidation, MaxUserNameLength)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password shorter than %d bytes", common.ErrorValidation, MinPasswordLength)
	}
	return nil
}
