package proto

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Struct field names used on the wire.
const (
	FieldUserName     = "username"
	FieldPassword     = "password"
	FieldOldPassword  = "old_password"
	FieldNewPassword  = "new_password"
	FieldAccessToken  = "access_token"
	FieldRefreshToken = "refresh_token"
	FieldUserID       = "user_id"
	FieldFamily       = "family"
	FieldCreatedAt    = "created_at"
	FieldExpiresAt    = "expires_at"
)

var ErrMissingField = errors.New("missing field")

// TokenPair is the decoded form of a Login or Refresh response.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	UserID       int64
}

// NewStringStruct builds a Struct whose fields are all strings.
func NewStringStruct(fields map[string]string) *structpb.Struct {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(fields))}
	for k, v := range fields {
		s.Fields[k] = structpb.NewStringValue(v)
	}
	return s
}

// StringField returns a string field of s, or "" when it is absent or not a string.
func StringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

// NewTokenPairStruct encodes a token pair response.
func NewTokenPairStruct(p TokenPair) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldAccessToken:  structpb.NewStringValue(p.AccessToken),
		FieldRefreshToken: structpb.NewStringValue(p.RefreshToken),
		FieldUserID:       structpb.NewNumberValue(float64(p.UserID)),
	}}
}

// ParseTokenPair decodes a token pair response.
func ParseTokenPair(s *structpb.Struct) (TokenPair, error) {
	p := TokenPair{
		AccessToken:  StringField(s, FieldAccessToken),
		RefreshToken: StringField(s, FieldRefreshToken),
		UserID:       int64(s.GetFields()[FieldUserID].GetNumberValue()),
	}
	if p.AccessToken == "" || p.RefreshToken == "" {
		return TokenPair{}, ErrMissingField
	}
	return p, nil
}

// SessionInfo describes one active refresh token family of a user.
type SessionInfo struct {
	Family    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewSessionList encodes a Sessions response. Times travel as RFC 3339 strings.
func NewSessionList(sessions []SessionInfo) *structpb.ListValue {
	l := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(sessions))}
	for _, s := range sessions {
		l.Values = append(l.Values, structpb.NewStructValue(NewStringStruct(map[string]string{
			FieldFamily:    s.Family,
			FieldCreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
			FieldExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339),
		})))
	}
	return l
}

// ParseSessionList decodes a Sessions response.
func ParseSessionList(l *structpb.ListValue) ([]SessionInfo, error) {
	out := make([]SessionInfo, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		s := v.GetStructValue()
		family := StringField(s, FieldFamily)
		if family == "" {
			return nil, ErrMissingField
		}
		created, err := time.Parse(time.RFC3339, StringField(s, FieldCreatedAt))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", FieldCreatedAt, err)
		}
		expires, err := time.Parse(time.RFC3339, StringField(s, FieldExpiresAt))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", FieldExpiresAt, err)
		}
		out = append(out, SessionInfo{Family: family, CreatedAt: created, ExpiresAt: expires})
	}
	return out, nil
}
