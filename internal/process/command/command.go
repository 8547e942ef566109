// Package command turns a command string and argument list into the argument
// vector and executable candidates handed to exec.
package command

import (
	"strings"
	"syscall"

	pkgerrors "vmproc/pkg/errors"
)

const (
	// DefaultShell runs commands that need shell interpretation.
	DefaultShell = "/bin/sh"
	// DefaultPath is searched when the child environment has no PATH.
	DefaultPath = "/usr/local/bin:/usr/bin:/bin"
)

// shellMeta are the characters that route a command through the shell.
const shellMeta = "*?{}[]<>()~&|\\$;'`\"\n\t\r\f\v"

// Spec owns a command string and its optional argument vector.
type Spec struct {
	command string
	args    []string
}

// New copies command and args into a Spec.
func New(command string, args []string) (*Spec, error) {
	if strings.IndexByte(command, 0) >= 0 {
		return nil, pkgerrors.Newf(pkgerrors.InvalidCommand, "command contains NUL byte")
	}
	owned := make([]string, len(args))
	for i, a := range args {
		if strings.IndexByte(a, 0) >= 0 {
			return nil, pkgerrors.Newf(pkgerrors.InvalidCommand, "argument %d contains NUL byte", i)
		}
		owned[i] = a
	}
	return &Spec{command: command, args: owned}, nil
}

// Command returns the command string.
func (s *Spec) Command() string { return s.command }

// Args returns a copy of the argument vector.
func (s *Spec) Args() []string {
	out := make([]string, len(s.args))
	copy(out, s.args)
	return out
}

// Argc is the number of explicit arguments.
func (s *Spec) Argc() int { return len(s.args) }

// Argv returns an owned, nil-terminated native argument vector of size
// argc+1. It returns nil when no arguments were supplied.
func (s *Spec) Argv() []*byte {
	if len(s.args) == 0 {
		return nil
	}
	argv := make([]*byte, len(s.args)+1)
	for i, a := range s.args {
		argv[i] = cstring(a)
	}
	return argv
}

// String renders the command line for diagnostics.
func (s *Spec) String() string {
	if len(s.args) == 0 {
		return s.command
	}
	return s.command + " " + strings.Join(s.args, " ")
}

// NeedsShell reports whether command contains a shell metacharacter.
func NeedsShell(command string) bool {
	for i := 0; i < len(command); i++ {
		c := command[i]
		if c == ' ' || isAlpha(c) {
			continue
		}
		if strings.IndexByte(shellMeta, c) >= 0 {
			return true
		}
	}
	return false
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Tokenize splits command on spaces, collapsing runs. No quoting is honoured.
func Tokenize(command string) []string {
	var tokens []string
	start := -1
	for i := 0; i < len(command); i++ {
		if command[i] == ' ' {
			if start >= 0 {
				tokens = append(tokens, command[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, command[start:])
	}
	return tokens
}

// Image is a resolved exec request: the argument vector plus the paths to try
// in order, following execvp's PATH search.
type Image struct {
	Argv       []string
	Candidates []string
	Shell      bool
}

// Resolve decides how s is executed. With explicit arguments the command is
// run directly; otherwise commands containing shell metacharacters run as
// `sh -c command` and plain commands are tokenized on spaces. env is the
// environment the new image will run with; its PATH drives the search.
func (s *Spec) Resolve(env []string, shell string) (Image, error) {
	if shell == "" {
		shell = DefaultShell
	}
	if len(s.args) > 0 {
		return Image{Argv: s.Args(), Candidates: SearchPath(s.command, env)}, nil
	}
	if NeedsShell(s.command) {
		return Image{
			Argv:       []string{"sh", "-c", s.command},
			Candidates: []string{shell},
			Shell:      true,
		}, nil
	}
	tokens := Tokenize(s.command)
	if len(tokens) == 0 {
		return Image{}, pkgerrors.ErrnoError(pkgerrors.LaunchFailed, "execvp", syscall.ENOENT).
			WithDetail("command", s.command)
	}
	return Image{Argv: tokens, Candidates: SearchPath(tokens[0], env)}, nil
}

// SearchPath lists the paths execvp would try for file. Names containing a
// slash are used as is; an empty PATH element means the current directory.
func SearchPath(file string, env []string) []string {
	if file == "" {
		return []string{""}
	}
	if strings.Contains(file, "/") {
		return []string{file}
	}
	path, ok := Lookup(env, "PATH")
	if !ok {
		path = DefaultPath
	}
	dirs := strings.Split(path, ":")
	candidates := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if dir == "" {
			dir = "."
		}
		candidates = append(candidates, dir+"/"+file)
	}
	return candidates
}

// Lookup finds key in a KEY=VALUE environment list. The first entry wins,
// as with getenv(3).
func Lookup(env []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

// Native holds the nil-terminated vectors the child passes to execve. The
// buffers are allocated before fork and never released in the child, which
// either replaces its image or exits.
type Native struct {
	Paths []*byte
	Argv  []*byte
	Envv  []*byte
}

// NewNative converts img and env into native vectors.
func NewNative(img Image, env []string) *Native {
	n := &Native{
		Paths: make([]*byte, len(img.Candidates)),
		Argv:  make([]*byte, len(img.Argv)+1),
		Envv:  make([]*byte, len(env)+1),
	}
	for i, p := range img.Candidates {
		n.Paths[i] = cstring(p)
	}
	for i, a := range img.Argv {
		n.Argv[i] = cstring(a)
	}
	for i, e := range env {
		n.Envv[i] = cstring(e)
	}
	return n
}

func cstring(s string) *byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return &b[0]
}
