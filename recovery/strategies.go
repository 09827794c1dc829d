package recovery

import "fmt"

// Strict fails on the first error. This is the default policy for
// programmatic object parsing, where damaged input is a caller bug.
type Strict struct{}

func NewStrict() *Strict { return &Strict{} }

func (*Strict) OnError(err error, location Location) Action { return ActionFail }

// Lenient repairs what it can and keeps a record of everything it saw.
// Suitable for reading documents produced by sloppy generators.
type Lenient struct {
	Errors []error
}

func NewLenient() *Lenient { return &Lenient{} }

func (s *Lenient) OnError(err error, location Location) Action {
	s.Errors = append(s.Errors, fmt.Errorf("[%s] offset %d: %w", location.Component, location.ByteOffset, err))
	return ActionFix
}
