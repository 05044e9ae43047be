package xerrors

import (
	"errors"
	"strings"
	"testing"
)

func TestWrap_NilPassthrough(t *testing.T) {
	if Wrap(nil, "msg") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "msg %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
	if WithStack(nil) != nil {
		t.Error("WithStack(nil) should be nil")
	}
	if EnsureTrace(nil) != nil {
		t.Error("EnsureTrace(nil) should be nil")
	}
}

func TestWrap_MessageAndUnwrap(t *testing.T) {
	root := errors.New("boom")
	err := Wrap(root, "load content")
	if got := err.Error(); got != "load content: boom" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, root) {
		t.Error("errors.Is should find root through wrap")
	}
}

func TestNew_CapturesStack(t *testing.T) {
	err := New("boom")
	var hs interface{ StackPCs() []uintptr }
	if !errors.As(err, &hs) {
		t.Fatal("New should capture a stack")
	}
	if len(hs.StackPCs()) == 0 {
		t.Fatal("empty stack")
	}
}

func TestEnsureTrace_Idempotent(t *testing.T) {
	err := New("boom")
	again := EnsureTrace(err)
	if again != err {
		t.Error("EnsureTrace should not re-wrap an error that already has a stack")
	}

	plain := errors.New("plain")
	traced := EnsureTrace(plain)
	if traced == plain {
		t.Error("EnsureTrace should wrap a stackless error")
	}
	if !errors.Is(traced, plain) {
		t.Error("wrapped error lost its cause")
	}
}

func TestNewf_Formats(t *testing.T) {
	err := Newf("content %s missing", "abc123")
	if !strings.Contains(err.Error(), "abc123") {
		t.Errorf("Newf output = %q", err.Error())
	}
}
