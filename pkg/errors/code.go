package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Process launch errors
// 12000-12999: Wait & reap errors
// 13000-13999: Worker phase & cancellation errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	Unsupported         ErrorCode = 10004

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300
	InvalidFormat    ErrorCode = 10301

	// ========== Process Launch Errors (11000-11999) ==========

	// Setup before fork (11000-11099)
	PipeSetupFailed    ErrorCode = 11000
	InvalidSpawnConfig ErrorCode = 11001
	InvalidCommand     ErrorCode = 11002

	// Fork & exec (11100-11199)
	ForkFailed   ErrorCode = 11100
	LaunchFailed ErrorCode = 11101

	// Child-side diagnostics (11200-11299)
	ChannelReadFailed ErrorCode = 11201
	OutputReadFailed  ErrorCode = 11202

	// ========== Wait & Reap Errors (12000-12999) ==========

	WaitFailed ErrorCode = 12001

	// ========== Worker Phase & Cancellation (13000-13999) ==========

	Interrupted     ErrorCode = 13000
	SignalSetFailed ErrorCode = 13002
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal error",
	InvalidParams:       "Invalid parameters",
	Unsupported:         "Operation not supported on this platform",

	// Validation
	ValidationFailed: "Validation failed",
	InvalidFormat:    "Invalid format",

	// Launch
	PipeSetupFailed:    "error setting up pipes",
	InvalidSpawnConfig: "Invalid spawn configuration",
	InvalidCommand:     "Invalid command",
	ForkFailed:         "error forking",
	LaunchFailed:       "execvp(2) failed",
	ChannelReadFailed:  "reading error status",
	OutputReadFailed:   "reading child data",

	// Wait
	WaitFailed: "waitpid(2) failed",

	// Phase
	Interrupted:     "Interrupted",
	SignalSetFailed: "Failed to change signal disposition",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// ExitStatus returns the recommended process exit status for a CLI reporting the error code
func (c ErrorCode) ExitStatus() int {
	switch {
	case c == Success:
		return 0
	case c == Interrupted:
		return 130
	case c == LaunchFailed:
		return 127
	case c >= 10300 && c < 10400: // Validation errors
		return 2
	case c == InvalidParams, c == InvalidSpawnConfig, c == InvalidCommand:
		return 2
	default:
		return 1
	}
}
