package refreshtokens

import (
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/cryptox"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/google/uuid"
)

// NewToken generates a random secret of secretLen bytes and the row that
// represents it. An empty family starts a new lineage. The returned raw
// secret is the only plaintext copy; the row holds its digest.
func NewToken(userID int64, family string, ttl time.Duration, secretLen int, now time.Time) (string, *models.RefreshToken, error) {
	raw, err := common.MakeRandURLString(secretLen)
	if err != nil {
		return "", nil, err
	}
	if family == "" {
		family = uuid.NewString()
	}
	return raw, &models.RefreshToken{
		ID:          uuid.NewString(),
		UserID:      userID,
		TokenDigest: cryptox.DigestToken(raw),
		JTI:         uuid.NewString(),
		Family:      family,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}, nil
}
