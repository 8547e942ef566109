package spawn

import (
	"reflect"
	"strings"
	"testing"

	pkgerrors "vmproc/pkg/errors"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

func TestBuilderSnapshotIsImmutable(t *testing.T) {
	b := NewBuilder().SetEnv("A", "1").Chdir("/tmp")
	cfg, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	b.SetEnv("B", "2").Chdir("/var")

	if got := cfg.Env(); len(got) != 1 || got[0].Key != "A" {
		t.Fatalf("snapshot changed after build: %v", got)
	}
	if dir, _ := cfg.Chdir(); dir != "/tmp" {
		t.Fatalf("snapshot chdir changed: %s", dir)
	}
	env := cfg.Env()
	env[0].Key = "Z"
	if cfg.Env()[0].Key != "A" {
		t.Fatalf("accessor leaked internal slice")
	}
}

func TestBuilderReportsFirstError(t *testing.T) {
	_, err := NewBuilder().Umask(0o1000).Pgroup(-1).Build()
	if !pkgerrors.Is(err, pkgerrors.InvalidSpawnConfig) {
		t.Fatalf("expected invalid spawn config, got %v", err)
	}
	if !strings.Contains(err.Error(), "umask") {
		t.Fatalf("expected the first failure to win, got %v", err)
	}

	cases := []*Builder{
		NewBuilder().SetEnv("", "x"),
		NewBuilder().SetEnv("A=B", "x"),
		NewBuilder().UnsetEnv("A\x00"),
		NewBuilder().Chdir(""),
		NewBuilder().AssignFD(-1, "/dev/null", 0, 0),
		NewBuilder().AssignFD(1, "", 0, 0),
		NewBuilder().RedirectFD(-2, 1),
	}
	for i, b := range cases {
		if _, err := b.Build(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestNilConfigIsEmpty(t *testing.T) {
	var cfg *Config
	if !cfg.Empty() {
		t.Fatalf("nil config must be empty")
	}
	if _, ok := cfg.Pgroup(); ok {
		t.Fatalf("nil config has no pgroup")
	}
	p := Compile(cfg, []string{"A=1"}, 64)
	if !reflect.DeepEqual(p.Env, []string{"A=1"}) {
		t.Fatalf("unexpected env %v", p.Env)
	}
	if p.HasPgroup || p.HasUmask || p.Chdir != nil || p.CloseOthers || len(p.Assign) != 0 {
		t.Fatalf("nil config must compile to a no-op plan")
	}
}

func TestApplyEnv(t *testing.T) {
	environ := []string{"PATH=/bin", "HOME=/root", "DUP=1", "DUP=2"}
	one := "one"
	path := "/usr/bin"
	got := ApplyEnv(environ, []EnvVar{
		{Key: "NEW", Value: &one},
		{Key: "PATH", Value: &path},
		{Key: "DUP"},
		{Key: "MISSING"},
	})
	want := []string{"PATH=/usr/bin", "HOME=/root", "NEW=one"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ApplyEnv = %v, want %v", got, want)
	}
	if environ[0] != "PATH=/bin" || len(environ) != 4 {
		t.Fatalf("environ must not be modified: %v", environ)
	}
}

func TestApplyEnvLaterEditsWin(t *testing.T) {
	a, b := "a", "b"
	got := ApplyEnv(nil, []EnvVar{{Key: "K", Value: &a}, {Key: "K"}, {Key: "K", Value: &b}})
	if !reflect.DeepEqual(got, []string{"K=b"}) {
		t.Fatalf("unexpected env %v", got)
	}
}

func TestCompile(t *testing.T) {
	cfg, err := NewBuilder().
		Pgroup(0).
		Umask(0o027).
		Chdir("/srv").
		CloseOthers(true).
		AssignFD(1, "/tmp/out", unix.O_WRONLY|unix.O_CREAT, 0o600).
		RedirectFD(2, 1).
		RedirectFD(3, -4).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	p := Compile(cfg, nil, 256)
	if !p.HasPgroup || p.Pgroup != 0 {
		t.Fatalf("expected pgroup 0")
	}
	if !p.HasUmask || p.Umask != 0o027 {
		t.Fatalf("expected umask 027, got %#o", p.Umask)
	}
	if p.Chdir == nil || !strings.HasSuffix(string(p.ChdirWarning), "failed to change directory: /srv\n") {
		t.Fatalf("unexpected chdir warning %q", p.ChdirWarning)
	}
	if !p.CloseOthers || p.MaxFD != 256 {
		t.Fatalf("expected close_others up to 256")
	}
	if len(p.Assign) != 1 || p.Assign[0].Flags&unix.O_CLOEXEC == 0 {
		t.Fatalf("assigned files must open close-on-exec: %+v", p.Assign)
	}
	want := []RedirectStep{{From: 2, To: 1}, {From: 3, To: 5}}
	if !reflect.DeepEqual(p.Redirect, want) {
		t.Fatalf("redirect = %v, want %v", p.Redirect, want)
	}
}

func TestAlternateFD(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 7: 7, -1: 2, -2: 3, -10: 11}
	for in, want := range cases {
		if got := AlternateFD(in); got != want {
			t.Fatalf("AlternateFD(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestOptionsFromYAML(t *testing.T) {
	data := `
env:
  - key: LANG
    value: C
  - key: DEBUG
    unset: true
pgroup: 0
umask: 0o022
chdir: /tmp
close_others: true
assign_fd:
  - fd: 1
    path: /tmp/log
    mode: a
redirect_fd:
  - from: 2
    to: 1
`
	var opts Options
	if err := yaml.Unmarshal([]byte(data), &opts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	cfg, err := opts.Config()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	env := cfg.Env()
	if len(env) != 2 || env[0].Value == nil || *env[0].Value != "C" || env[1].Value != nil {
		t.Fatalf("unexpected env %v", env)
	}
	if mask, ok := cfg.Umask(); !ok || mask != 0o022 {
		t.Fatalf("unexpected umask %#o", mask)
	}
	assign := cfg.AssignFDs()
	if len(assign) != 1 || assign[0].Perm != DefaultPerm || assign[0].Flags&unix.O_APPEND == 0 {
		t.Fatalf("unexpected assign %+v", assign)
	}
	if !cfg.CloseOthers() || len(cfg.RedirectFDs()) != 1 {
		t.Fatalf("unexpected config %s", cfg)
	}
}

func TestOptionsRejectUnknownMode(t *testing.T) {
	opts := Options{AssignFD: []AssignOption{{FD: 0, Path: "/dev/null", Mode: "x"}}}
	if _, err := opts.Config(); !pkgerrors.Is(err, pkgerrors.InvalidSpawnConfig) {
		t.Fatalf("expected invalid spawn config, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]int{
		"":   unix.O_RDONLY,
		"r":  unix.O_RDONLY,
		"rw": unix.O_RDWR,
		"w":  unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC,
		"a+": unix.O_RDWR | unix.O_CREAT | unix.O_APPEND,
	}
	for mode, want := range cases {
		got, err := ParseMode(mode)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %d, %v; want %d", mode, got, err, want)
		}
	}
}
