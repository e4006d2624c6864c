package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	pb "github.com/dmitrijs2005/sessionkeeper/internal/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// fakeServer accepts exactly one access token at a time and rotates
// refresh tokens r1 -> r2 -> ...
type fakeServer struct {
	mu           sync.Mutex
	validAccess  string
	validRefresh string
	next         pb.TokenPair
	refreshCalls int
	loggedOut    []string
	users        map[string]bool
}

func (f *fakeServer) authorized(ctx context.Context) bool {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get(common.AuthorizationHeaderName)
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(values) == 1 && values[0] == "Bearer "+f.validAccess
}

func (f *fakeServer) Register(_ context.Context, req *structpb.Struct) (*wrapperspb.Int64Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := pb.StringField(req, pb.FieldUserName)
	if f.users[name] {
		return nil, status.Error(codes.AlreadyExists, "username already taken")
	}
	f.users[name] = true
	return wrapperspb.Int64(int64(len(f.users))), nil
}

func (f *fakeServer) Login(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if pb.StringField(req, pb.FieldPassword) != "correct horse" {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validAccess, f.validRefresh = "a1", "r1"
	return pb.NewTokenPairStruct(pb.TokenPair{AccessToken: "a1", RefreshToken: "r1", UserID: 7}), nil
}

func (f *fakeServer) Refresh(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if req.GetValue() != f.validRefresh || f.next.RefreshToken == "" {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	f.validAccess, f.validRefresh = f.next.AccessToken, f.next.RefreshToken
	out := f.next
	f.next = pb.TokenPair{}
	return pb.NewTokenPairStruct(out), nil
}

func (f *fakeServer) Logout(_ context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = append(f.loggedOut, req.GetValue())
	return &emptypb.Empty{}, nil
}

func (f *fakeServer) LogoutAll(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	if !f.authorized(ctx) {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	return wrapperspb.Int64(2), nil
}

func (f *fakeServer) ChangePassword(ctx context.Context, _ *structpb.Struct) (*emptypb.Empty, error) {
	if !f.authorized(ctx) {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	return &emptypb.Empty{}, nil
}

func (f *fakeServer) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	if !f.authorized(ctx) {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	return wrapperspb.Int64(7), nil
}

func (f *fakeServer) Sessions(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	if !f.authorized(ctx) {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	return pb.NewSessionList([]pb.SessionInfo{
		{Family: "f1", CreatedAt: sessionStart, ExpiresAt: sessionStart.Add(24 * time.Hour)},
	}), nil
}

var sessionStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T) (*GRPCClient, *fakeServer) {
	t.Helper()

	fake := &fakeServer{users: map[string]bool{}}
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	pb.RegisterSessionServiceServer(srv, fake)
	go func() { _ = srv.Serve(lis) }()

	c, err := NewSessionClient("passthrough:///bufnet", 5*time.Second,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Close()
		srv.Stop()
	})
	return c, fake
}

func TestLoginAndWhoAmI(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	pair, err := c.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, pb.TokenPair{AccessToken: "a1", RefreshToken: "r1", UserID: 7}, pair)

	id, err := c.WhoAmI(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
}

func TestLogin_WrongPassword(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Login(context.Background(), "alice", "nope")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestProtectedCallWithoutSession(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.WhoAmI(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestExpiredAccessTokenIsRefreshedOnce(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	_, err := c.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	var rotated []pb.TokenPair
	c.OnTokensRotated(func(_ context.Context, p pb.TokenPair) { rotated = append(rotated, p) })

	// the server moves on: a1 is no longer accepted, r1 rotates to r2
	fake.mu.Lock()
	fake.validAccess = "expired"
	fake.next = pb.TokenPair{AccessToken: "a2", RefreshToken: "r2", UserID: 7}
	fake.mu.Unlock()

	id, err := c.WhoAmI(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	require.Len(t, rotated, 1)
	assert.Equal(t, "r2", rotated[0].RefreshToken)
	assert.Equal(t, "r2", c.currentTokens().RefreshToken)
}

func TestConcurrentCallsShareOneRotation(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	_, err := c.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	fake.mu.Lock()
	fake.validAccess = "expired"
	fake.next = pb.TokenPair{AccessToken: "a2", RefreshToken: "r2", UserID: 7}
	fake.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.WhoAmI(ctx)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1, fake.refreshCalls)
}

func TestRejectedRefreshDropsSession(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	_, err := c.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	fake.mu.Lock()
	fake.validAccess = "expired"
	fake.mu.Unlock()

	_, err = c.WhoAmI(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, pb.TokenPair{}, c.currentTokens())

	_, err = c.Refresh(ctx)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestLogoutRevokesAndForgets(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	_, err := c.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	require.NoError(t, c.Logout(ctx))
	assert.Equal(t, pb.TokenPair{}, c.currentTokens())
	assert.Equal(t, []string{"r1"}, fake.loggedOut)

	// nothing to revoke any more
	require.NoError(t, c.Logout(ctx))
	assert.Len(t, fake.loggedOut, 1)
}

func TestLogoutAllAndChangePasswordDropSession(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)
	n, err := c.LogoutAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, pb.TokenPair{}, c.currentTokens())

	_, err = c.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)
	require.NoError(t, c.ChangePassword(ctx, "correct horse", "battery staple"))
	assert.Equal(t, pb.TokenPair{}, c.currentTokens())
}

func TestSessions(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	_, err := c.Sessions(ctx)
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	_, err = c.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	// an expired access token is refreshed like for any other protected call
	fake.mu.Lock()
	fake.validAccess = "expired"
	fake.next = pb.TokenPair{AccessToken: "a2", RefreshToken: "r2", UserID: 7}
	fake.mu.Unlock()

	got, err := c.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []pb.SessionInfo{
		{Family: "f1", CreatedAt: sessionStart, ExpiresAt: sessionStart.Add(24 * time.Hour)},
	}, got)
	assert.Equal(t, "r2", c.currentTokens().RefreshToken)
}

func TestRegister(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	id, err := c.Register(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	_, err = c.Register(ctx, "alice", "correct horse")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMapError(t *testing.T) {
	c := &GRPCClient{}

	assert.ErrorIs(t, c.mapError(status.Error(codes.Unavailable, "down")), ErrUnavailable)
	assert.ErrorIs(t, c.mapError(status.Error(codes.DeadlineExceeded, "slow")), ErrUnavailable)
	assert.ErrorIs(t, c.mapError(status.Error(codes.InvalidArgument, "bad")), ErrInvalidArgument)
	assert.ErrorIs(t, c.mapError(status.Error(codes.PermissionDenied, "no")), ErrForbidden)

	plain := errors.New("plain")
	assert.Same(t, plain, c.mapError(plain))

	internal := status.Error(codes.Internal, "internal error")
	assert.Equal(t, internal, c.mapError(internal))
}
