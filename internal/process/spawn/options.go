package spawn

import (
	"strings"

	pkgerrors "vmproc/pkg/errors"

	"golang.org/x/sys/unix"
)

// EnvOption is one environment edit in YAML form.
type EnvOption struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
	Unset bool   `yaml:"unset"`
}

// AssignOption is one descriptor assignment in YAML form.
type AssignOption struct {
	FD   int    `yaml:"fd"`
	Path string `yaml:"path"`
	Mode string `yaml:"mode"`
	Perm uint32 `yaml:"perm"`
}

// RedirectOption is one descriptor redirection in YAML form.
type RedirectOption struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// Options is the YAML representation of a Config.
type Options struct {
	Env         []EnvOption      `yaml:"env"`
	Pgroup      *int             `yaml:"pgroup"`
	Umask       *int             `yaml:"umask"`
	Chdir       string           `yaml:"chdir"`
	CloseOthers bool             `yaml:"close_others"`
	AssignFD    []AssignOption   `yaml:"assign_fd"`
	RedirectFD  []RedirectOption `yaml:"redirect_fd"`
}

// DefaultPerm is used for assigned files created without an explicit mode.
const DefaultPerm = 0o644

// Apply adds the options to b in field order and returns b.
func (o Options) Apply(b *Builder) *Builder {
	for _, e := range o.Env {
		if e.Unset {
			b.UnsetEnv(e.Key)
		} else {
			b.SetEnv(e.Key, e.Value)
		}
	}
	if o.Pgroup != nil {
		b.Pgroup(*o.Pgroup)
	}
	if o.Umask != nil {
		b.Umask(*o.Umask)
	}
	if o.Chdir != "" {
		b.Chdir(o.Chdir)
	}
	if o.CloseOthers {
		b.CloseOthers(true)
	}
	for _, a := range o.AssignFD {
		flags, err := ParseMode(a.Mode)
		if err != nil {
			b.fail("assign_fd", err.Error())
			continue
		}
		perm := a.Perm
		if perm == 0 {
			perm = DefaultPerm
		}
		b.AssignFD(a.FD, a.Path, flags, perm)
	}
	for _, r := range o.RedirectFD {
		b.RedirectFD(r.From, r.To)
	}
	return b
}

// Config builds a Config from the options alone.
func (o Options) Config() (*Config, error) {
	return o.Apply(NewBuilder()).Build()
}

// ParseMode converts an fopen-style mode string into open(2) flags. An empty
// mode opens read-only.
func ParseMode(mode string) (int, error) {
	switch strings.TrimSpace(mode) {
	case "", "r":
		return unix.O_RDONLY, nil
	case "r+", "rw":
		return unix.O_RDWR, nil
	case "w":
		return unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC, nil
	case "w+":
		return unix.O_RDWR | unix.O_CREAT | unix.O_TRUNC, nil
	case "a":
		return unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND, nil
	case "a+":
		return unix.O_RDWR | unix.O_CREAT | unix.O_APPEND, nil
	default:
		return 0, pkgerrors.Newf(pkgerrors.InvalidSpawnConfig, "unknown open mode %q", mode)
	}
}
