package pdfobj

import (
	"errors"
	"fmt"
)

// Error kind sentinels. Operational failures wrap one of these, so
// callers classify with errors.Is.
var (
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrParse          = errors.New("parse error")
	ErrAuthentication = errors.New("authentication failed")
	ErrDecode         = errors.New("decode error")
	ErrIO             = errors.New("io error")
)

// Error carries the kind sentinel, a message and, where known, the byte
// offset in the source document.
type Error struct {
	Kind   error
	Msg    string
	Offset int64
}

func (e *Error) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("%s: %s (offset %d)", e.Kind, e.Msg, e.Offset)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

func typeMismatch(want string, got ObjectType) error {
	return &Error{Kind: ErrTypeMismatch, Msg: fmt.Sprintf("want %s, have %s", want, got)}
}

func parseErr(offset int64, format string, args ...interface{}) error {
	return &Error{Kind: ErrParse, Msg: fmt.Sprintf(format, args...), Offset: offset}
}

func decodeErr(format string, args ...interface{}) error {
	return &Error{Kind: ErrDecode, Msg: fmt.Sprintf(format, args...)}
}

func ioErr(err error, what string) error {
	return &Error{Kind: ErrIO, Msg: fmt.Sprintf("%s: %v", what, err)}
}
