package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	pb "github.com/dmitrijs2005/sessionkeeper/internal/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type GRPCClient struct {
	endpointURL string
	timeout     time.Duration
	conn        *grpc.ClientConn
	client      pb.SessionServiceClient

	mu        sync.Mutex
	tokens    pb.TokenPair
	onRotated func(ctx context.Context, tokens pb.TokenPair)

	// refreshMu serialises rotations so that one refresh token is never
	// presented twice by this process.
	refreshMu sync.Mutex
}

var _ Client = (*GRPCClient)(nil)

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AuthorizationHeaderName, common.BearerScheme+" "+token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {

	if !pb.RequiresAuth(method) {
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	tokens := s.currentTokens()
	if tokens.AccessToken == "" && tokens.RefreshToken == "" {
		return ErrNotLoggedIn
	}

	err := invoker(withAccessToken(ctx, tokens.AccessToken), method, req, reply, cc, opts...)
	if status.Code(err) != codes.Unauthenticated || tokens.RefreshToken == "" {
		return err
	}

	// the access token is probably expired: rotate once and retry
	fresh, refreshErr := s.rotate(ctx, tokens.RefreshToken)
	if refreshErr != nil {
		return err
	}

	return invoker(withAccessToken(ctx, fresh.AccessToken), method, req, reply, cc, opts...)
}

// NewSessionClient connects to endpointURL. timeout bounds every call when
// positive; extra dial options are appended, e.g. a custom dialer in tests.
func NewSessionClient(endpointURL string, timeout time.Duration, extra ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, timeout: timeout}
	if err := c.InitGRPCClient(extra...); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient(extra ...grpc.DialOption) error {

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.accessTokenInterceptor),
	}, extra...)

	conn, err := grpc.NewClient(s.endpointURL, opts...)
	if err != nil {
		return err
	}
	s.conn = conn
	s.client = pb.NewSessionServiceClient(conn)
	return nil
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

func (s *GRPCClient) SetTokens(tokens pb.TokenPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = tokens
}

func (s *GRPCClient) OnTokensRotated(fn func(ctx context.Context, tokens pb.TokenPair)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRotated = fn
}

func (s *GRPCClient) currentTokens() pb.TokenPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

func (s *GRPCClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// rotate exchanges used for a new pair. If another call already rotated
// used, the current pair is returned without contacting the server.
func (s *GRPCClient) rotate(ctx context.Context, used string) (pb.TokenPair, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if current := s.currentTokens(); current.RefreshToken != used {
		return current, nil
	}

	resp, err := s.client.Refresh(ctx, wrapperspb.String(used))
	if err != nil {
		if status.Code(err) == codes.Unauthenticated {
			s.SetTokens(pb.TokenPair{})
		}
		return pb.TokenPair{}, s.mapError(err)
	}

	pair, err := pb.ParseTokenPair(resp)
	if err != nil {
		return pb.TokenPair{}, fmt.Errorf("refresh response: %w", err)
	}

	s.mu.Lock()
	s.tokens = pair
	onRotated := s.onRotated
	s.mu.Unlock()

	if onRotated != nil {
		onRotated(ctx, pair)
	}
	return pair, nil
}

func (s *GRPCClient) Register(ctx context.Context, userName, password string) (int64, error) {

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	req := pb.NewStringStruct(map[string]string{pb.FieldUserName: userName, pb.FieldPassword: password})

	resp, err := s.client.Register(ctx, req)
	if err != nil {
		return 0, s.mapError(err)
	}

	return resp.GetValue(), nil
}

func (s *GRPCClient) Login(ctx context.Context, userName, password string) (pb.TokenPair, error) {

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	req := pb.NewStringStruct(map[string]string{pb.FieldUserName: userName, pb.FieldPassword: password})

	resp, err := s.client.Login(ctx, req)
	if err != nil {
		return pb.TokenPair{}, s.mapError(err)
	}

	pair, err := pb.ParseTokenPair(resp)
	if err != nil {
		return pb.TokenPair{}, fmt.Errorf("login response: %w", err)
	}

	s.SetTokens(pair)
	return pair, nil
}

// Refresh rotates the current refresh token.
func (s *GRPCClient) Refresh(ctx context.Context) (pb.TokenPair, error) {

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	used := s.currentTokens().RefreshToken
	if used == "" {
		return pb.TokenPair{}, ErrNotLoggedIn
	}
	return s.rotate(ctx, used)
}

// Logout revokes the current refresh token and forgets the pair locally,
// even when the server cannot be reached.
func (s *GRPCClient) Logout(ctx context.Context) error {

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	refresh := s.currentTokens().RefreshToken
	s.SetTokens(pb.TokenPair{})
	if refresh == "" {
		return nil
	}

	if _, err := s.client.Logout(ctx, wrapperspb.String(refresh)); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *GRPCClient) LogoutAll(ctx context.Context) (int64, error) {

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.LogoutAll(ctx, &emptypb.Empty{})
	if err != nil {
		return 0, s.mapError(err)
	}

	s.SetTokens(pb.TokenPair{})
	return resp.GetValue(), nil
}

// ChangePassword changes the password. The server revokes every session,
// so the local pair is dropped too.
func (s *GRPCClient) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	req := pb.NewStringStruct(map[string]string{pb.FieldOldPassword: oldPassword, pb.FieldNewPassword: newPassword})

	if _, err := s.client.ChangePassword(ctx, req); err != nil {
		return s.mapError(err)
	}

	s.SetTokens(pb.TokenPair{})
	return nil
}

func (s *GRPCClient) WhoAmI(ctx context.Context) (int64, error) {

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.WhoAmI(ctx, &emptypb.Empty{})
	if err != nil {
		return 0, s.mapError(err)
	}
	return resp.GetValue(), nil
}

func (s *GRPCClient) Sessions(ctx context.Context) ([]pb.SessionInfo, error) {

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.Sessions(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, s.mapError(err)
	}
	return pb.ParseSessionList(resp)
}

func (s *GRPCClient) mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.Unauthenticated:
		return ErrUnauthorized
	case codes.PermissionDenied:
		return ErrForbidden
	case codes.AlreadyExists:
		return ErrAlreadyExists
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, st.Message())
	default:
		return err
	}
}
