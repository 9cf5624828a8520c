// Package apperr defines the error taxonomy shared by the service layers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindConflict
	KindUpstream
	KindPersistence
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	case KindPersistence:
		return "persistence"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Stable codes returned to clients
const (
	CodeItemNotFound       = "ITEM_NOT_FOUND"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeAlreadyStaked      = "ALREADY_STAKED"
	CodeNotStaked          = "NOT_STAKED"
	CodeNotOwner           = "NOT_OWNER"
	CodeNonceNotFound      = "NONCE_NOT_FOUND"
	CodeSignatureMismatch  = "SIGNATURE_MISMATCH"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidAddress     = "INVALID_ADDRESS"
	CodeInvalidItemID      = "INVALID_ITEM_ID"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodePersistence        = "PERSISTENCE_FAILURE"
	CodeUpstream           = "UPSTREAM_FAILURE"
	CodeRankingUnavailable = "RANKING_UNAVAILABLE"
)

// Error is a classified application error. Message is safe to show to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is comparisons
var (
	ErrItemNotFound       = &Error{Kind: KindNotFound, Code: CodeItemNotFound, Message: "item not found"}
	ErrUserNotFound       = &Error{Kind: KindNotFound, Code: CodeUserNotFound, Message: "user not found"}
	ErrAlreadyStaked      = &Error{Kind: KindConflict, Code: CodeAlreadyStaked, Message: "item is already staked"}
	ErrNotStaked          = &Error{Kind: KindConflict, Code: CodeNotStaked, Message: "item is not staked"}
	ErrNotOwner           = &Error{Kind: KindConflict, Code: CodeNotOwner, Message: "item is staked by another wallet"}
	ErrNonceNotFound      = &Error{Kind: KindAuth, Code: CodeNonceNotFound, Message: "nonce not found or expired"}
	ErrSignatureMismatch  = &Error{Kind: KindAuth, Code: CodeSignatureMismatch, Message: "signature does not match wallet address"}
	ErrUnauthorized       = &Error{Kind: KindAuth, Code: CodeUnauthorized, Message: "authentication required"}
	ErrRankingUnavailable = &Error{Kind: KindNotFound, Code: CodeRankingUnavailable, Message: "ranking has not been built yet"}
)

// New creates an error without a cause
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a cause to a classified error
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Persistence wraps a store failure
func Persistence(op string, err error) *Error {
	return Wrap(KindPersistence, CodePersistence, "storage is unavailable", fmt.Errorf("%s: %w", op, err))
}

// Upstream wraps a chain or metadata failure
func Upstream(op string, err error) *Error {
	return Wrap(KindUpstream, CodeUpstream, "upstream source failed", fmt.Errorf("%s: %w", op, err))
}

// Validation builds a client input error
func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

// From extracts the classified error from err's chain
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or zero if unclassified
func KindOf(err error) Kind {
	if e, ok := From(err); ok {
		return e.Kind
	}
	return 0
}

// HTTPStatus maps an error to a response status
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindAuth:
		return http.StatusUnauthorized
	case KindUpstream:
		return http.StatusBadGateway
	case KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
