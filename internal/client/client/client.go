// Package client talks to the sessionkeeper server over gRPC. GRPCClient
// keeps the current token pair, attaches the access token to protected
// calls and transparently refreshes it once when the server rejects it.
// Status codes are mapped to the sentinel errors in errors.go.
package client

import (
	"context"

	pb "github.com/dmitrijs2005/sessionkeeper/internal/proto"
)

type Client interface {
	Close() error
	Register(ctx context.Context, userName, password string) (int64, error)
	Login(ctx context.Context, userName, password string) (pb.TokenPair, error)
	Refresh(ctx context.Context) (pb.TokenPair, error)
	Logout(ctx context.Context) error
	LogoutAll(ctx context.Context) (int64, error)
	ChangePassword(ctx context.Context, oldPassword, newPassword string) error
	WhoAmI(ctx context.Context) (int64, error)
	Sessions(ctx context.Context) ([]pb.SessionInfo, error)

	// SetTokens installs a previously saved pair.
	SetTokens(tokens pb.TokenPair)
	// OnTokensRotated registers fn to receive every pair obtained by a
	// refresh, so the caller can persist it before the old one is reused.
	OnTokensRotated(fn func(ctx context.Context, tokens pb.TokenPair))
}
