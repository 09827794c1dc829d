package recovery

import (
	"errors"
	"testing"
)

func TestStrictAlwaysFails(t *testing.T) {
	s := NewStrict()
	if got := s.OnError(errors.New("boom"), Location{ByteOffset: 42}); got != ActionFail {
		t.Fatalf("expected ActionFail, got %v", got)
	}
}

func TestLenientRecordsAndFixes(t *testing.T) {
	s := NewLenient()
	err := errors.New("unterminated string")
	if got := s.OnError(err, Location{ByteOffset: 7, Component: "scanner:literal"}); got != ActionFix {
		t.Fatalf("expected ActionFix, got %v", got)
	}
	if len(s.Errors) != 1 {
		t.Fatalf("expected 1 recorded error, got %d", len(s.Errors))
	}
	if !errors.Is(s.Errors[0], err) {
		t.Fatalf("recorded error does not wrap original")
	}
}
