// Package recovery defines the error-recovery policy consumed by the
// scanner and the document reader when they hit damaged input.
package recovery

// Location identifies where in the document an error was detected.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

// Action tells the caller how to proceed after an error.
type Action int

const (
	// ActionFail aborts the operation with the original error.
	ActionFail Action = iota
	// ActionSkip drops the offending construct and continues.
	ActionSkip
	// ActionFix applies a best-effort repair (e.g. close an unterminated
	// string at EOF) and continues.
	ActionFix
	// ActionWarn records the error; the scanner treats it like ActionFail.
	ActionWarn
)

// Strategy decides, per error, whether to abort, skip, or repair.
type Strategy interface {
	OnError(err error, location Location) Action
}
