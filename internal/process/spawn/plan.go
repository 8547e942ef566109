package spawn

import (
	"strings"
	"syscall"
)

// AssignStep is an AssignFD lowered to the values the child passes to open(2).
type AssignStep struct {
	FD    int
	Path  *byte
	Flags int
	Perm  uint32
}

// RedirectStep is a RedirectFD with the alternate descriptor already chosen.
type RedirectStep struct {
	From int
	To   int
}

// Plan is a Config compiled into primitive values. The forked child applies
// it in field order without allocating: pgroup, umask, chdir, close_others,
// assign_fd, redirect_fd. Environment edits are already folded into Env.
type Plan struct {
	Env []string

	HasPgroup bool
	Pgroup    int
	HasUmask  bool
	Umask     int

	Chdir *byte
	// ChdirWarning is written to the child's stderr after the errno text
	// when chdir fails.
	ChdirWarning []byte

	CloseOthers bool
	MaxFD       int

	Assign   []AssignStep
	Redirect []RedirectStep
}

// Compile lowers cfg for a child that inherits environ. maxFD bounds the
// close_others sweep. A nil cfg yields a plan that only carries environ.
func Compile(cfg *Config, environ []string, maxFD int) *Plan {
	p := &Plan{
		Env:   ApplyEnv(environ, cfg.Env()),
		MaxFD: maxFD,
	}
	if v, ok := cfg.Pgroup(); ok {
		p.HasPgroup, p.Pgroup = true, v
	}
	if v, ok := cfg.Umask(); ok {
		p.HasUmask, p.Umask = true, v
	}
	if dir, ok := cfg.Chdir(); ok {
		p.Chdir = cstring(dir)
		p.ChdirWarning = []byte(": spawn: failed to change directory: " + dir + "\n")
	}
	p.CloseOthers = cfg.CloseOthers()
	for _, a := range cfg.AssignFDs() {
		p.Assign = append(p.Assign, AssignStep{
			FD:    a.FD,
			Path:  cstring(a.Path),
			Flags: a.Flags | syscall.O_CLOEXEC,
			Perm:  a.Perm,
		})
	}
	for _, r := range cfg.RedirectFDs() {
		p.Redirect = append(p.Redirect, RedirectStep{From: r.From, To: AlternateFD(r.To)})
	}
	return p
}

// AlternateFD maps a negative redirect target to -to+1.
func AlternateFD(to int) int {
	if to < 0 {
		return -to + 1
	}
	return to
}

// ApplyEnv returns a copy of environ with edits applied in order. Setting a
// key replaces its first occurrence or appends; unsetting removes every
// occurrence.
func ApplyEnv(environ []string, edits []EnvVar) []string {
	env := make([]string, len(environ))
	copy(env, environ)
	for _, e := range edits {
		prefix := e.Key + "="
		if e.Value == nil {
			kept := env[:0]
			for _, kv := range env {
				if !strings.HasPrefix(kv, prefix) {
					kept = append(kept, kv)
				}
			}
			env = kept
			continue
		}
		entry := prefix + *e.Value
		replaced := false
		for i, kv := range env {
			if strings.HasPrefix(kv, prefix) {
				env[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			env = append(env, entry)
		}
	}
	return env
}

func cstring(s string) *byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return &b[0]
}
