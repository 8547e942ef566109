package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"

	. "vmproc/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{ForkFailed, "error forking"},
		{InvalidParams, "Invalid parameters"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_ExitStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{Success, 0},
		{Interrupted, 130},
		{LaunchFailed, 127},
		{InvalidSpawnConfig, 2},
		{InvalidFormat, 2},
		{ForkFailed, 1},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.ExitStatus(); got != tt.want {
				t.Errorf("ExitStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(InvalidCommand, "command %q contains NUL", "a\x00b")
	if !strings.Contains(err.Error(), "contains NUL") {
		t.Errorf("Error() = %v", err.Error())
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("broken pipe")
	wrappedErr := Wrap(originalErr, OutputReadFailed)

	if wrappedErr.Code != OutputReadFailed {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, OutputReadFailed)
	}
	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}
}

func TestErrnoError(t *testing.T) {
	err := ErrnoError(LaunchFailed, "execve(2)", syscall.ENOENT).WithDetail("pid", 42)

	if got := Errno(err); got != syscall.ENOENT {
		t.Errorf("Errno() = %v, want ENOENT", got)
	}
	if !errors.Is(err, syscall.ENOENT) {
		t.Error("errors.Is should see the errno")
	}
	if err.Details["op"] != "execve(2)" || err.Details["pid"] != 42 {
		t.Errorf("unexpected details %v", err.Details)
	}
	want := "execvp(2) failed: execve(2): " + syscall.ENOENT.Error()
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	wrapped := fmt.Errorf("spawn: %w", err)
	if !Is(wrapped, LaunchFailed) || Errno(wrapped) != syscall.ENOENT {
		t.Error("code and errno should survive wrapping")
	}
	if Errno(errors.New("plain")) != 0 {
		t.Error("plain errors carry no errno")
	}
}

func TestError_WithMessage(t *testing.T) {
	customMsg := "custom error message"
	err := New(InternalServerError).WithMessage(customMsg)

	if err.Error() != customMsg {
		t.Errorf("Error() = %v, want %v", err.Error(), customMsg)
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "nil error", err: nil, want: Success},
		{name: "custom error", err: New(WaitFailed), want: WaitFailed},
		{name: "standard error", err: errors.New("standard error"), want: InternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := InterruptedError("backtick")

	if !Is(err, Interrupted) {
		t.Error("Is() should return true for matching code")
	}
	if Is(err, ForkFailed) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(nil, Interrupted) {
		t.Error("Is() should return false for nil error")
	}
}

func TestCommonErrorConstructors(t *testing.T) {
	t.Run("UnsupportedError", func(t *testing.T) {
		err := UnsupportedError("fork")
		if err.Code != Unsupported || err.Details["op"] != "fork" {
			t.Error("UnsupportedError should use Unsupported code and carry op")
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		err := ValidationError("umask", "out of range")
		if err.Code != ValidationFailed {
			t.Error("ValidationError should use ValidationFailed code")
		}
		if err.Details["field"] != "umask" {
			t.Error("Field detail not set")
		}
	})
}
