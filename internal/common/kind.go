package common

import "errors"

// ErrorKind is the closed set of authentication failure kinds produced by the
// token service and the authentication gate.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTokenInvalid
	KindTokenExpired
	KindTokenReused
	KindMissingCredential
	KindMalformedCredential
	KindInvalidCredential
	KindCredentialExpired
	KindSubjectNotFound
)

var kindNames = map[ErrorKind]string{
	KindUnknown:             "unknown",
	KindTokenInvalid:        "token invalid",
	KindTokenExpired:        "token expired",
	KindTokenReused:         "token reused",
	KindMissingCredential:   "missing credential",
	KindMalformedCredential: "malformed credential",
	KindInvalidCredential:   "invalid credential",
	KindCredentialExpired:   "credential expired",
	KindSubjectNotFound:     "subject not found",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// AuthError is an authentication failure of a known kind with an optional
// underlying cause.
type AuthError struct {
	Kind ErrorKind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is reports whether target is an *AuthError of the same kind, so that
// errors.Is(err, ErrTokenReused) holds for any wrapped reuse failure.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

// NewAuthError builds an AuthError of kind k wrapping cause.
func NewAuthError(k ErrorKind, cause error) *AuthError {
	return &AuthError{Kind: k, Err: cause}
}

// Sentinels for errors.Is matching.
var (
	ErrTokenInvalid        = &AuthError{Kind: KindTokenInvalid}
	ErrTokenExpired        = &AuthError{Kind: KindTokenExpired}
	ErrTokenReused         = &AuthError{Kind: KindTokenReused}
	ErrMissingCredential   = &AuthError{Kind: KindMissingCredential}
	ErrMalformedCredential = &AuthError{Kind: KindMalformedCredential}
	ErrInvalidCredential   = &AuthError{Kind: KindInvalidCredential}
	ErrCredentialExpired   = &AuthError{Kind: KindCredentialExpired}
	ErrSubjectNotFound     = &AuthError{Kind: KindSubjectNotFound}
)

// KindOf returns the kind of the first *AuthError in err's chain, or
// KindUnknown when there is none.
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}
