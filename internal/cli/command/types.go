package command

import (
	"fmt"
	"strconv"
	"strings"
)

// Command describes one procsh command.
type Command struct {
	Name    string
	Usage   string
	Summary string
	// MinArgs is the number of positional arguments the command requires.
	MinArgs int
}

// Option is one key=value token given before a spawned command.
type Option struct {
	Key   string
	Value string
}

// SplitOption splits a key=value token. Only the first '=' separates.
func SplitOption(token string) (Option, bool) {
	parts := strings.SplitN(token, "=", 2)
	if len(parts) != 2 || parts[0] == "" {
		return Option{}, false
	}
	return Option{Key: strings.ToLower(parts[0]), Value: parts[1]}, true
}

func ParseInt(value string) (int, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
	return int(n), err
}

// ParseOctal parses a file mode such as 022 or 0o022.
func ParseOctal(value string) (int, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(value), "0o")
	n, err := strconv.ParseInt(raw, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal value %q", value)
	}
	return int(n), nil
}

// ParseBool accepts the usual spellings plus on/off.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(value)
}
