// Package common contains shared constants and sentinel errors used across
// sessionkeeper components.
package common

// AuthorizationHeaderName is the gRPC metadata key carrying the bearer
// access token on protected calls.
const AuthorizationHeaderName = "authorization"

// BearerScheme is the only accepted authorization scheme.
const BearerScheme = "Bearer"
