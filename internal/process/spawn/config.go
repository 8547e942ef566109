// Package spawn describes the per-launch child setup: environment edits,
// process group, umask, working directory and descriptor wiring.
package spawn

import (
	"fmt"
	"strings"

	pkgerrors "vmproc/pkg/errors"
)

// EnvVar sets Key to *Value in the child. A nil Value unsets Key.
type EnvVar struct {
	Key   string
	Value *string
}

// AssignFD opens Path with Flags and Perm and installs it as FD.
type AssignFD struct {
	FD    int
	Path  string
	Flags int
	Perm  uint32
}

// RedirectFD makes From a duplicate of To. A negative To selects the
// alternate descriptor -To+1.
type RedirectFD struct {
	From int
	To   int
}

// Config is an immutable snapshot of the child setup for one launch. Build it
// with a Builder; the zero value and nil both mean "no changes".
type Config struct {
	env         []EnvVar
	pgroup      *int
	umask       *int
	chdir       *string
	closeOthers bool
	assign      []AssignFD
	redirect    []RedirectFD
}

// Env returns the environment edits in application order.
func (c *Config) Env() []EnvVar {
	if c == nil {
		return nil
	}
	out := make([]EnvVar, len(c.env))
	copy(out, c.env)
	return out
}

// Pgroup returns the requested process group and whether one was set.
func (c *Config) Pgroup() (int, bool) {
	if c == nil || c.pgroup == nil {
		return 0, false
	}
	return *c.pgroup, true
}

// Umask returns the requested file mode mask and whether one was set.
func (c *Config) Umask() (int, bool) {
	if c == nil || c.umask == nil {
		return 0, false
	}
	return *c.umask, true
}

// Chdir returns the requested working directory and whether one was set.
func (c *Config) Chdir() (string, bool) {
	if c == nil || c.chdir == nil {
		return "", false
	}
	return *c.chdir, true
}

// CloseOthers reports whether descriptors above stderr are marked
// close-on-exec in the child.
func (c *Config) CloseOthers() bool {
	return c != nil && c.closeOthers
}

// AssignFDs returns the descriptor assignments in application order.
func (c *Config) AssignFDs() []AssignFD {
	if c == nil {
		return nil
	}
	out := make([]AssignFD, len(c.assign))
	copy(out, c.assign)
	return out
}

// RedirectFDs returns the descriptor redirections in application order.
func (c *Config) RedirectFDs() []RedirectFD {
	if c == nil {
		return nil
	}
	out := make([]RedirectFD, len(c.redirect))
	copy(out, c.redirect)
	return out
}

// Empty reports whether the config changes nothing.
func (c *Config) Empty() bool {
	return c == nil || (len(c.env) == 0 && c.pgroup == nil && c.umask == nil &&
		c.chdir == nil && !c.closeOthers && len(c.assign) == 0 && len(c.redirect) == 0)
}

// String renders the config for logs.
func (c *Config) String() string {
	if c.Empty() {
		return "{}"
	}
	var parts []string
	for _, e := range c.env {
		if e.Value == nil {
			parts = append(parts, "unset "+e.Key)
		} else {
			parts = append(parts, e.Key+"="+*e.Value)
		}
	}
	if c.pgroup != nil {
		parts = append(parts, fmt.Sprintf("pgroup=%d", *c.pgroup))
	}
	if c.umask != nil {
		parts = append(parts, fmt.Sprintf("umask=%#o", *c.umask))
	}
	if c.chdir != nil {
		parts = append(parts, "chdir="+*c.chdir)
	}
	if c.closeOthers {
		parts = append(parts, "close_others")
	}
	for _, a := range c.assign {
		parts = append(parts, fmt.Sprintf("%d<%s", a.FD, a.Path))
	}
	for _, r := range c.redirect {
		parts = append(parts, fmt.Sprintf("%d>&%d", r.From, r.To))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// Builder accumulates spawn settings. The first invalid setting is kept and
// reported by Build.
type Builder struct {
	cfg Config
	err error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// SetEnv sets key to value in the child environment.
func (b *Builder) SetEnv(key, value string) *Builder {
	if b.checkEnvKey(key) && b.checkNUL("env", value) {
		v := value
		b.cfg.env = append(b.cfg.env, EnvVar{Key: key, Value: &v})
	}
	return b
}

// UnsetEnv removes key from the child environment.
func (b *Builder) UnsetEnv(key string) *Builder {
	if b.checkEnvKey(key) {
		b.cfg.env = append(b.cfg.env, EnvVar{Key: key})
	}
	return b
}

// Pgroup moves the child into process group pgid; 0 makes it a group leader.
func (b *Builder) Pgroup(pgid int) *Builder {
	if pgid < 0 {
		b.fail("pgroup", "must not be negative")
		return b
	}
	b.cfg.pgroup = &pgid
	return b
}

// Umask sets the child's file mode creation mask.
func (b *Builder) Umask(mask int) *Builder {
	if mask < 0 || mask > 0o777 {
		b.fail("umask", "must be between 0 and 0777")
		return b
	}
	b.cfg.umask = &mask
	return b
}

// Chdir changes the child's working directory.
func (b *Builder) Chdir(dir string) *Builder {
	if dir == "" {
		b.fail("chdir", "must not be empty")
		return b
	}
	if b.checkNUL("chdir", dir) {
		b.cfg.chdir = &dir
	}
	return b
}

// CloseOthers marks every descriptor above stderr close-on-exec.
func (b *Builder) CloseOthers(enabled bool) *Builder {
	b.cfg.closeOthers = enabled
	return b
}

// AssignFD opens path in the child and installs it as fd.
func (b *Builder) AssignFD(fd int, path string, flags int, perm uint32) *Builder {
	if fd < 0 {
		b.fail("assign_fd", "descriptor must not be negative")
		return b
	}
	if path == "" {
		b.fail("assign_fd", "path must not be empty")
		return b
	}
	if b.checkNUL("assign_fd", path) {
		b.cfg.assign = append(b.cfg.assign, AssignFD{FD: fd, Path: path, Flags: flags, Perm: perm})
	}
	return b
}

// RedirectFD makes from a duplicate of to in the child.
func (b *Builder) RedirectFD(from, to int) *Builder {
	if from < 0 {
		b.fail("redirect_fd", "source descriptor must not be negative")
		return b
	}
	b.cfg.redirect = append(b.cfg.redirect, RedirectFD{From: from, To: to})
	return b
}

// Build returns an immutable snapshot of the accumulated settings.
func (b *Builder) Build() (*Config, error) {
	if b.err != nil {
		return nil, b.err
	}
	c := &Config{
		env:         append([]EnvVar(nil), b.cfg.env...),
		closeOthers: b.cfg.closeOthers,
		assign:      append([]AssignFD(nil), b.cfg.assign...),
		redirect:    append([]RedirectFD(nil), b.cfg.redirect...),
	}
	if b.cfg.pgroup != nil {
		v := *b.cfg.pgroup
		c.pgroup = &v
	}
	if b.cfg.umask != nil {
		v := *b.cfg.umask
		c.umask = &v
	}
	if b.cfg.chdir != nil {
		v := *b.cfg.chdir
		c.chdir = &v
	}
	return c, nil
}

func (b *Builder) checkEnvKey(key string) bool {
	if key == "" {
		b.fail("env", "key must not be empty")
		return false
	}
	if strings.ContainsRune(key, '=') {
		b.fail("env", "key must not contain '='")
		return false
	}
	return b.checkNUL("env", key)
}

func (b *Builder) checkNUL(field, value string) bool {
	if strings.IndexByte(value, 0) >= 0 {
		b.fail(field, "contains NUL byte")
		return false
	}
	return true
}

func (b *Builder) fail(field, reason string) {
	if b.err != nil {
		return
	}
	b.err = pkgerrors.Newf(pkgerrors.InvalidSpawnConfig, "%s: %s", field, reason).
		WithDetail("field", field).
		WithDetail("reason", reason)
}
