package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/users"
)

// memTx is the handle passed to WithTx callbacks. It never touches SQL.
type memTx struct{ dbx.DBTX }

type memState struct {
	tokens map[string]models.RefreshToken
	users  map[int64]models.User
	nextID int64

	// fault injection
	createErr        error
	revokeFamilyErr  error
	revokeAllErr     error
	commitErr        error
	beforeMarkRotate func(st *memState, id string)
	revokeFamilyHits int
}

func (st *memState) clone() *memState {
	c := *st
	c.tokens = make(map[string]models.RefreshToken, len(st.tokens))
	for k, v := range st.tokens {
		c.tokens[k] = v
	}
	c.users = make(map[int64]models.User, len(st.users))
	for k, v := range st.users {
		c.users[k] = v
	}
	return &c
}

// fakeManager serialises every unit of work on one mutex, which is the
// strongest isolation a real database could give; a failed WithTx restores
// the snapshot taken when it began.
type fakeManager struct {
	mu sync.Mutex
	st *memState
}

var _ repomanager.RepositoryManager = (*fakeManager)(nil)

func newFakeManager() *fakeManager {
	return &fakeManager{st: &memState{
		tokens: map[string]models.RefreshToken{},
		users:  map[int64]models.User{},
	}}
}

func (m *fakeManager) RunMigrations(context.Context) error { return nil }
func (m *fakeManager) Conn() dbx.DBTX                      { return nil }
func (m *fakeManager) Close() error                        { return nil }

func (m *fakeManager) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.st.clone()
	err := fn(ctx, &memTx{})
	if err == nil {
		err = m.st.commitErr
	}
	if err != nil {
		m.st.tokens, m.st.users, m.st.nextID = snapshot.tokens, snapshot.users, snapshot.nextID
		return err
	}
	return nil
}

func (m *fakeManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	_, inTx := db.(*memTx)
	return &memTokens{m: m, locked: !inTx}
}

func (m *fakeManager) Users(db dbx.DBTX) users.Repository {
	_, inTx := db.(*memTx)
	return &memUsers{m: m, locked: !inTx}
}

// do runs fn against the current state, taking the manager lock unless the
// caller already holds it through WithTx.
func (m *fakeManager) do(locked bool, fn func(st *memState) error) error {
	if locked {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	return fn(m.st)
}

func (m *fakeManager) token(digest string) (models.RefreshToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.st.tokens {
		if t.TokenDigest == digest {
			return t, true
		}
	}
	return models.RefreshToken{}, false
}

func (m *fakeManager) tokensOfFamily(family string) []models.RefreshToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RefreshToken
	for _, t := range m.st.tokens {
		if t.Family == family {
			out = append(out, t)
		}
	}
	return out
}

func (m *fakeManager) tokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.tokens)
}

func (m *fakeManager) setHooks(fn func(st *memState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.st)
}

type memTokens struct {
	m      *fakeManager
	locked bool
}

func (r *memTokens) Create(ctx context.Context, token *models.RefreshToken) error {
	return r.m.do(r.locked, func(st *memState) error {
		if st.createErr != nil {
			return st.createErr
		}
		for _, t := range st.tokens {
			if t.TokenDigest == token.TokenDigest || t.JTI == token.JTI {
				return common.ErrAlreadyExists
			}
		}
		st.tokens[token.ID] = *token
		return nil
	})
}

func (r *memTokens) FindByDigest(ctx context.Context, digest string) (*models.RefreshToken, error) {
	var out *models.RefreshToken
	err := r.m.do(r.locked, func(st *memState) error {
		for _, t := range st.tokens {
			if t.TokenDigest == digest {
				t := t
				out = &t
				return nil
			}
		}
		return common.ErrorNotFound
	})
	return out, err
}

func (r *memTokens) FindByDigestForUpdate(ctx context.Context, digest string) (*models.RefreshToken, error) {
	return r.FindByDigest(ctx, digest)
}

func (r *memTokens) MarkRotated(ctx context.Context, id string, replacedByJTI string, at time.Time) error {
	return r.m.do(r.locked, func(st *memState) error {
		if st.beforeMarkRotate != nil {
			st.beforeMarkRotate(st, id)
		}
		t, ok := st.tokens[id]
		if !ok || t.RevokedAt != nil {
			return common.ErrConflict
		}
		t.RevokedAt = &at
		t.ReplacedByJTI = &replacedByJTI
		st.tokens[id] = t
		return nil
	})
}

func (r *memTokens) RevokeByDigest(ctx context.Context, digest string, at time.Time) (bool, error) {
	changed := false
	err := r.m.do(r.locked, func(st *memState) error {
		for id, t := range st.tokens {
			if t.TokenDigest == digest && t.RevokedAt == nil {
				t.RevokedAt = &at
				st.tokens[id] = t
				changed = true
			}
		}
		return nil
	})
	return changed, err
}

func (r *memTokens) RevokeFamily(ctx context.Context, family string, at time.Time) (int64, error) {
	var n int64
	err := r.m.do(r.locked, func(st *memState) error {
		st.revokeFamilyHits++
		if st.revokeFamilyErr != nil {
			return st.revokeFamilyErr
		}
		n = revokeWhere(st, at, func(t models.RefreshToken) bool { return t.Family == family })
		return nil
	})
	return n, err
}

func (r *memTokens) RevokeAllForUser(ctx context.Context, userID int64, at time.Time) (int64, error) {
	var n int64
	err := r.m.do(r.locked, func(st *memState) error {
		if st.revokeAllErr != nil {
			return st.revokeAllErr
		}
		n = revokeWhere(st, at, func(t models.RefreshToken) bool { return t.UserID == userID })
		return nil
	})
	return n, err
}

func (r *memTokens) ListActiveByUser(ctx context.Context, userID int64, now time.Time) ([]*models.RefreshToken, error) {
	var out []*models.RefreshToken
	err := r.m.do(r.locked, func(st *memState) error {
		for _, t := range st.tokens {
			if t.UserID == userID && t.Usable(now) {
				t := t
				out = append(out, &t)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func revokeWhere(st *memState, at time.Time, match func(models.RefreshToken) bool) int64 {
	var n int64
	for id, t := range st.tokens {
		if match(t) && t.RevokedAt == nil {
			t.RevokedAt = &at
			st.tokens[id] = t
			n++
		}
	}
	return n
}

type memUsers struct {
	m      *fakeManager
	locked bool
}

func (r *memUsers) Create(ctx context.Context, user *models.User) (*models.User, error) {
	err := r.m.do(r.locked, func(st *memState) error {
		for _, u := range st.users {
			if u.UserName == user.UserName {
				return common.ErrAlreadyExists
			}
		}
		st.nextID++
		user.ID = st.nextID
		user.CreatedAt = time.Now()
		st.users[user.ID] = *user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *memUsers) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	var out *models.User
	err := r.m.do(r.locked, func(st *memState) error {
		for _, u := range st.users {
			if u.UserName == login {
				u := u
				out = &u
				return nil
			}
		}
		return common.ErrorNotFound
	})
	return out, err
}

func (r *memUsers) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var out *models.User
	err := r.m.do(r.locked, func(st *memState) error {
		u, ok := st.users[id]
		if !ok {
			return common.ErrorNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (r *memUsers) UpdatePassword(ctx context.Context, id int64, salt, passwordHash []byte) error {
	return r.m.do(r.locked, func(st *memState) error {
		u, ok := st.users[id]
		if !ok {
			return common.ErrorNotFound
		}
		u.Salt, u.PasswordHash = salt, passwordHash
		st.users[id] = u
		return nil
	})
}

// fakeClock is a settable clock shared by the service and the codec.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingLogger keeps messages per level for assertions.
type recordingLogger struct {
	mu   sync.Mutex
	msgs map[string][]string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{msgs: map[string][]string{}}
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs[level] = append(l.msgs[level], msg)
}

func (l *recordingLogger) Debug(_ context.Context, msg string, _ ...any) { l.add("debug", msg) }
func (l *recordingLogger) Info(_ context.Context, msg string, _ ...any)  { l.add("info", msg) }
func (l *recordingLogger) Warn(_ context.Context, msg string, _ ...any)  { l.add("warn", msg) }
func (l *recordingLogger) Error(_ context.Context, msg string, _ ...any) { l.add("error", msg) }

func (l *recordingLogger) With(...any) logging.Logger { return l }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs[level])
}
