package command

import (
	"reflect"
	"testing"

	"vmproc/internal/process/spawn"

	"golang.org/x/sys/unix"
)

func TestRegistryCoversOperations(t *testing.T) {
	commands := Registry()
	for _, name := range []string{"spawn", "backtick", "wait", "exec", "fork", "help", "exit"} {
		if _, ok := commands[name]; !ok {
			t.Fatalf("missing command %s", name)
		}
	}
	names := Names(commands)
	if names[0] != "backtick" {
		t.Fatalf("expected sorted names, got %v", names)
	}
}

func TestParseSpawnOptions(t *testing.T) {
	tokens := []string{
		"env=Path=/opt/bin",
		"unset=HOME",
		"chdir=/tmp",
		"umask=027",
		"pgroup=0",
		"close_others=on",
		"assign=1:/tmp/out:w:600",
		"redirect=2:1",
		"--",
		"ls", "-l",
	}
	req, err := ParseSpawn(spawn.Options{}, tokens)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Command != "ls" || !reflect.DeepEqual(req.Args, []string{"ls", "-l"}) {
		t.Fatalf("unexpected command %q %v", req.Command, req.Args)
	}
	env := req.Config.Env()
	if len(env) != 2 || env[0].Key != "Path" || *env[0].Value != "/opt/bin" || env[1].Value != nil {
		t.Fatalf("unexpected env %+v", env)
	}
	if mask, _ := req.Config.Umask(); mask != 0o027 {
		t.Fatalf("unexpected umask %#o", mask)
	}
	if !req.Config.CloseOthers() {
		t.Fatalf("expected close_others")
	}
	assign := req.Config.AssignFDs()
	want := spawn.AssignFD{FD: 1, Path: "/tmp/out", Flags: unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC, Perm: 0o600}
	if len(assign) != 1 || assign[0] != want {
		t.Fatalf("unexpected assign %+v", assign)
	}
	if r := req.Config.RedirectFDs(); len(r) != 1 || r[0] != (spawn.RedirectFD{From: 2, To: 1}) {
		t.Fatalf("unexpected redirect %+v", r)
	}
}

func TestParseSpawnSingleTokenKeepsCommandString(t *testing.T) {
	req, err := ParseSpawn(spawn.Options{}, []string{"echo $HOME | wc -c"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Command != "echo $HOME | wc -c" || req.Args != nil {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestParseSpawnStopsAtFirstCommandToken(t *testing.T) {
	req, err := ParseSpawn(spawn.Options{}, []string{"env=A=1", "make", "CC=gcc"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Command != "make" || !reflect.DeepEqual(req.Args, []string{"make", "CC=gcc"}) {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestParseSpawnAppliesDefaultsFirst(t *testing.T) {
	defaults := spawn.Options{Chdir: "/var"}
	req, err := ParseSpawn(defaults, []string{"chdir=/tmp", "pwd"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if dir, _ := req.Config.Chdir(); dir != "/tmp" {
		t.Fatalf("line options must override defaults, got %s", dir)
	}
}

func TestParseSpawnErrors(t *testing.T) {
	cases := [][]string{
		{},
		{"env=A=1"},
		{"umask=9", "ls"},
		{"pgroup=x", "ls"},
		{"redirect=1", "ls"},
		{"assign=x:/tmp", "ls"},
		{"assign=1:/tmp:q", "ls"},
		{"env=novalue", "ls"},
		{"umask=01000", "ls"},
	}
	for _, tokens := range cases {
		if _, err := ParseSpawn(spawn.Options{}, tokens); err == nil {
			t.Fatalf("expected error for %v", tokens)
		}
	}
}

func TestParseOctal(t *testing.T) {
	for in, want := range map[string]int{"022": 0o22, "0o755": 0o755, "7": 7} {
		got, err := ParseOctal(in)
		if err != nil || got != want {
			t.Fatalf("ParseOctal(%q) = %d, %v", in, got, err)
		}
	}
}
