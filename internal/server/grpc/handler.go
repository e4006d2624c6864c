package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	pb "github.com/dmitrijs2005/sessionkeeper/internal/proto"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// errUnauthorized is the single answer to every token or credential failure,
// so callers cannot tell which check rejected them.
var errUnauthorized = status.Error(codes.Unauthenticated, "unauthorized")

func (s *GRPCServer) Register(ctx context.Context, req *structpb.Struct) (*wrapperspb.Int64Value, error) {

	userName := pb.StringField(req, pb.FieldUserName)
	password := pb.StringField(req, pb.FieldPassword)
	if userName == "" || password == "" {
		return nil, status.Error(codes.InvalidArgument, "username and password are required")
	}

	user, err := s.users.Register(ctx, userName, password)
	if err != nil {
		return nil, s.toStatus(ctx, "register", err)
	}

	s.logger.Info(ctx, "Registered", "user_id", user.ID)
	return wrapperspb.Int64(user.ID), nil
}

func (s *GRPCServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {

	userName := pb.StringField(req, pb.FieldUserName)
	password := pb.StringField(req, pb.FieldPassword)
	if userName == "" || password == "" {
		return nil, status.Error(codes.InvalidArgument, "username and password are required")
	}

	pair, err := s.users.Login(ctx, userName, password)
	if err != nil {
		return nil, s.toStatus(ctx, "login", err)
	}

	return tokenPairStruct(pair), nil
}

func (s *GRPCServer) Refresh(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {

	pair, err := s.tokens.Refresh(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus(ctx, "refresh", err)
	}

	return tokenPairStruct(pair), nil
}

func (s *GRPCServer) Logout(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {

	if err := s.tokens.Revoke(ctx, req.GetValue()); err != nil {
		return nil, s.toStatus(ctx, "logout", err)
	}

	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) LogoutAll(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {

	userID, ok := userIDFromContext(ctx)
	if !ok {
		return nil, errUnauthorized
	}

	n, err := s.tokens.RevokeAllForUser(ctx, userID)
	if err != nil {
		return nil, s.toStatus(ctx, "logout all", err)
	}

	return wrapperspb.Int64(n), nil
}

func (s *GRPCServer) ChangePassword(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {

	userID, ok := userIDFromContext(ctx)
	if !ok {
		return nil, errUnauthorized
	}

	oldPassword := pb.StringField(req, pb.FieldOldPassword)
	newPassword := pb.StringField(req, pb.FieldNewPassword)
	if oldPassword == "" || newPassword == "" {
		return nil, status.Error(codes.InvalidArgument, "old and new password are required")
	}

	if err := s.users.ChangePassword(ctx, userID, oldPassword, newPassword); err != nil {
		return nil, s.toStatus(ctx, "change password", err)
	}

	s.logger.Info(ctx, "Password changed", "user_id", userID)
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {

	userID, ok := userIDFromContext(ctx)
	if !ok {
		return nil, errUnauthorized
	}

	return wrapperspb.Int64(userID), nil
}

// Sessions lists the caller's active refresh token families.
func (s *GRPCServer) Sessions(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {

	userID, ok := userIDFromContext(ctx)
	if !ok {
		return nil, errUnauthorized
	}

	rows, err := s.tokens.Sessions(ctx, userID)
	if err != nil {
		return nil, s.toStatus(ctx, "sessions", err)
	}

	out := make([]pb.SessionInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, pb.SessionInfo{Family: r.Family, CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt})
	}
	return pb.NewSessionList(out), nil
}

// toStatus maps service errors to gRPC status errors. Store failures are
// logged and hidden behind a generic message.
func (s *GRPCServer) toStatus(ctx context.Context, op string, err error) error {
	switch {
	case common.KindOf(err) != common.KindUnknown, errors.Is(err, common.ErrorUnauthorized):
		s.logger.Debug(ctx, op+" rejected", "kind", common.KindOf(err).String())
		return errUnauthorized
	case errors.Is(err, common.ErrorForbidden):
		return status.Error(codes.PermissionDenied, "old password does not match")
	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "username already taken")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		s.logger.Error(ctx, op+" failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}

func tokenPairStruct(p *services.TokenPair) *structpb.Struct {
	return pb.NewTokenPairStruct(pb.TokenPair{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		UserID:       p.UserID,
	})
}
