package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cols = []string{"id", "user_id", "token_digest", "jti", "family", "expires_at", "created_at", "revoked_at", "replaced_by_jti"}

const selectByDigest = `(?s)^SELECT\s+id,\s*user_id,.*replaced_by_jti\s+FROM\s+refresh_tokens\s+WHERE\s+token_digest\s*=\s*\$1$`

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
	return NewPostgresRepository(db), mock, db
}

func sampleToken(now time.Time) *models.RefreshToken {
	return &models.RefreshToken{
		ID:          "id-1",
		UserID:      42,
		TokenDigest: "digest-1",
		JTI:         "jti-1",
		Family:      "fam-1",
		ExpiresAt:   now.Add(time.Hour),
		CreatedAt:   now,
	}
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	tok := sampleToken(now)

	q := `(?s)^\s*INSERT\s+INTO\s+refresh_tokens\s*\(id,\s*user_id,\s*token_digest,\s*jti,\s*family,\s*expires_at,\s*created_at\).*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6,\s*\$7\)\s*$`
	mock.ExpectExec(q).
		WithArgs("id-1", int64(42), "digest-1", "jti-1", "fam-1", tok.ExpiresAt, tok.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), tok))
}

func TestCreate_UniqueViolationIsPreserved(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+refresh_tokens`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), sampleToken(time.Now()))
	require.Error(t, err)
	assert.Regexp(t, `error performing sql request: `, err.Error())
	assert.True(t, dbx.IsUniqueViolation(err))
}

func TestFindByDigest_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	revoked := now.Add(-time.Minute)
	rows := sqlmock.NewRows(cols).
		AddRow("id-1", int64(42), "digest-1", "jti-1", "fam-1", now.Add(time.Hour), now, revoked, "jti-2")

	mock.ExpectQuery(selectByDigest).WithArgs("digest-1").WillReturnRows(rows)

	got, err := repo.FindByDigest(context.Background(), "digest-1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", got.ID)
	assert.Equal(t, int64(42), got.UserID)
	assert.Equal(t, "fam-1", got.Family)
	require.NotNil(t, got.RevokedAt)
	assert.True(t, got.RevokedAt.Equal(revoked))
	require.NotNil(t, got.ReplacedByJTI)
	assert.Equal(t, "jti-2", *got.ReplacedByJTI)
}

func TestFindByDigest_ActiveHasNilRevocation(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(cols).
		AddRow("id-1", int64(42), "digest-1", "jti-1", "fam-1", now.Add(time.Hour), now, nil, nil)

	mock.ExpectQuery(selectByDigest).WithArgs("digest-1").WillReturnRows(rows)

	got, err := repo.FindByDigest(context.Background(), "digest-1")
	require.NoError(t, err)
	assert.Nil(t, got.RevokedAt)
	assert.Nil(t, got.ReplacedByJTI)
	assert.True(t, got.Usable(now))
}

func TestFindByDigest_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(selectByDigest).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByDigest(context.Background(), "missing")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestFindByDigest_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(selectByDigest).WithArgs("digest-1").WillReturnError(errors.New("db err"))

	_, err := repo.FindByDigest(context.Background(), "digest-1")
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestFindByDigestForUpdate_LocksRow(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(cols).
		AddRow("id-1", int64(42), "digest-1", "jti-1", "fam-1", now.Add(time.Hour), now, nil, nil)

	mock.ExpectQuery(`(?s)FROM\s+refresh_tokens\s+WHERE\s+token_digest\s*=\s*\$1\s+FOR\s+UPDATE$`).
		WithArgs("digest-1").
		WillReturnRows(rows)

	got, err := repo.FindByDigestForUpdate(context.Background(), "digest-1")
	require.NoError(t, err)
	assert.Equal(t, "jti-1", got.JTI)
}

const markRotated = `(?s)UPDATE\s+refresh_tokens\s+SET\s+revoked_at\s*=\s*\$2,\s*replaced_by_jti\s*=\s*\$3\s+WHERE\s+id\s*=\s*\$1\s+AND\s+revoked_at\s+IS\s+NULL`

func TestMarkRotated_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec(markRotated).WithArgs("id-1", at, "jti-2").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkRotated(context.Background(), "id-1", "jti-2", at))
}

func TestMarkRotated_AlreadyRevokedIsConflict(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec(markRotated).WithArgs("id-1", at, "jti-2").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRotated(context.Background(), "id-1", "jti-2", at)
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestMarkRotated_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(markRotated).WillReturnError(errors.New("db down"))

	err := repo.MarkRotated(context.Background(), "id-1", "jti-2", time.Now())
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrConflict)
	assert.Contains(t, err.Error(), "db error: db down")
}

func TestRevokeByDigest(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Now()
	q := `(?s)UPDATE\s+refresh_tokens\s+SET\s+revoked_at\s*=\s*\$2\s+WHERE\s+token_digest\s*=\s*\$1\s+AND\s+revoked_at\s+IS\s+NULL`

	mock.ExpectExec(q).WithArgs("digest-1", at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("digest-1", at).WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.RevokeByDigest(context.Background(), "digest-1", at)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.RevokeByDigest(context.Background(), "digest-1", at)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRevokeFamily(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Now()
	mock.ExpectExec(`(?s)UPDATE\s+refresh_tokens\s+SET\s+revoked_at\s*=\s*\$2\s+WHERE\s+family\s*=\s*\$1\s+AND\s+revoked_at\s+IS\s+NULL`).
		WithArgs("fam-1", at).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RevokeFamily(context.Background(), "fam-1", at)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRevokeAllForUser(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	at := time.Now()
	q := `(?s)UPDATE\s+refresh_tokens\s+SET\s+revoked_at\s*=\s*\$2\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+revoked_at\s+IS\s+NULL`
	mock.ExpectExec(q).WithArgs(int64(42), at).WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec(q).WithArgs(int64(42), at).WillReturnError(errors.New("db err"))

	n, err := repo.RevokeAllForUser(context.Background(), 42, at)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	_, err = repo.RevokeAllForUser(context.Background(), 42, at)
	assert.Error(t, err)
}

func TestListActiveByUser(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(cols).
		AddRow("id-1", int64(42), "d1", "jti-1", "fam-1", now.Add(time.Hour), now.Add(-2*time.Hour), nil, nil).
		AddRow("id-2", int64(42), "d2", "jti-2", "fam-2", now.Add(time.Hour), now.Add(-time.Hour), nil, nil)

	mock.ExpectQuery(`(?s)FROM\s+refresh_tokens\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+revoked_at\s+IS\s+NULL\s+AND\s+expires_at\s*>\s*\$2\s+ORDER\s+BY\s+created_at$`).
		WithArgs(int64(42), now).
		WillReturnRows(rows)

	got, err := repo.ListActiveByUser(context.Background(), 42, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "fam-1", got[0].Family)
	assert.Equal(t, "fam-2", got[1].Family)
}

func TestListActiveByUser_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+refresh_tokens`).WillReturnError(errors.New("db err"))

	_, err := repo.ListActiveByUser(context.Background(), 42, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error: db err")
}
