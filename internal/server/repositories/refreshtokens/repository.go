// Package refreshtokens declares the server-side repository contract for
// refresh token rows and its PostgreSQL implementation.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
)

// Repository defines persistence of refresh tokens. Rows are only ever
// inserted or revoked, never deleted. A Repository obtained for a
// transaction handle takes part in that transaction.
type Repository interface {
	// Create inserts a new token row.
	Create(ctx context.Context, token *models.RefreshToken) error

	// FindByDigest returns the row with the given digest or common.ErrorNotFound.
	FindByDigest(ctx context.Context, digest string) (*models.RefreshToken, error)

	// FindByDigestForUpdate is FindByDigest that also locks the row until the
	// surrounding transaction ends.
	FindByDigestForUpdate(ctx context.Context, digest string) (*models.RefreshToken, error)

	// MarkRotated revokes an active row and links it to its successor.
	// It returns common.ErrConflict when the row is already revoked.
	MarkRotated(ctx context.Context, id string, replacedByJTI string, at time.Time) error

	// RevokeByDigest revokes the row with the given digest if it is active.
	// It reports whether a row changed; unknown or revoked rows are not an error.
	RevokeByDigest(ctx context.Context, digest string, at time.Time) (bool, error)

	// RevokeFamily revokes every active row of a family and returns how many changed.
	RevokeFamily(ctx context.Context, family string, at time.Time) (int64, error)

	// RevokeAllForUser revokes every active row of a user and returns how many changed.
	RevokeAllForUser(ctx context.Context, userID int64, at time.Time) (int64, error)

	// ListActiveByUser returns the user's unrevoked, unexpired rows, oldest first.
	ListActiveByUser(ctx context.Context, userID int64, now time.Time) ([]*models.RefreshToken, error)
}
