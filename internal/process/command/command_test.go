package command

import (
	"reflect"
	"syscall"
	"testing"
	"unsafe"

	pkgerrors "vmproc/pkg/errors"
)

func TestNeedsShell(t *testing.T) {
	plain := []string{
		"ls",
		"echo hello world",
		"ls  -la /tmp",
		"make build-all",
		"cat a.txt",
		"",
	}
	for _, cmd := range plain {
		if NeedsShell(cmd) {
			t.Fatalf("%q should not need the shell", cmd)
		}
	}
	for _, c := range shellMeta {
		cmd := "echo a" + string(c) + "b"
		if !NeedsShell(cmd) {
			t.Fatalf("%q should route through the shell", cmd)
		}
	}
}

func TestTokenize(t *testing.T) {
	cases := map[string][]string{
		"echo hello":          {"echo", "hello"},
		"  ls   -l  /tmp  ":   {"ls", "-l", "/tmp"},
		"single":              {"single"},
		"":                    nil,
		"     ":               nil,
		"a-b c.d e/f g:h i=j": {"a-b", "c.d", "e/f", "g:h", "i=j"},
	}
	for in, want := range cases {
		if got := Tokenize(in); !reflect.DeepEqual(got, want) {
			t.Fatalf("Tokenize(%q) = %#v, want %#v", in, got, want)
		}
	}
}

func TestResolvePlainCommandSkipsShell(t *testing.T) {
	spec, err := New("echo hello", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	img, err := spec.Resolve([]string{"PATH=/usr/bin:/bin"}, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if img.Shell {
		t.Fatalf("plain command must not use the shell")
	}
	if !reflect.DeepEqual(img.Argv, []string{"echo", "hello"}) {
		t.Fatalf("unexpected argv %v", img.Argv)
	}
	if !reflect.DeepEqual(img.Candidates, []string{"/usr/bin/echo", "/bin/echo"}) {
		t.Fatalf("unexpected candidates %v", img.Candidates)
	}
}

func TestResolveMetacharacterUsesShell(t *testing.T) {
	spec, _ := New("echo $HOME | wc -c", nil)
	img, err := spec.Resolve(nil, "/bin/sh")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !img.Shell {
		t.Fatalf("expected shell routing")
	}
	if !reflect.DeepEqual(img.Argv, []string{"sh", "-c", "echo $HOME | wc -c"}) {
		t.Fatalf("unexpected argv %v", img.Argv)
	}
	if !reflect.DeepEqual(img.Candidates, []string{"/bin/sh"}) {
		t.Fatalf("unexpected candidates %v", img.Candidates)
	}
}

func TestResolveExplicitArgsNeverUsesShell(t *testing.T) {
	spec, _ := New("printf", []string{"printf", "%s|%s", "a", "b"})
	img, err := spec.Resolve(nil, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if img.Shell {
		t.Fatalf("explicit args must not use the shell")
	}
	if !reflect.DeepEqual(img.Argv, []string{"printf", "%s|%s", "a", "b"}) {
		t.Fatalf("unexpected argv %v", img.Argv)
	}
	if len(img.Candidates) != 3 || img.Candidates[0] != "/usr/local/bin/printf" {
		t.Fatalf("expected default PATH search, got %v", img.Candidates)
	}
}

func TestResolveEmptyCommand(t *testing.T) {
	spec, _ := New("   ", nil)
	_, err := spec.Resolve(nil, "")
	if !pkgerrors.Is(err, pkgerrors.LaunchFailed) {
		t.Fatalf("expected launch failure, got %v", err)
	}
	if pkgerrors.Errno(err) != syscall.ENOENT {
		t.Fatalf("expected ENOENT, got %v", pkgerrors.Errno(err))
	}
}

func TestSearchPath(t *testing.T) {
	if got := SearchPath("./run", nil); !reflect.DeepEqual(got, []string{"./run"}) {
		t.Fatalf("slash names must not be searched, got %v", got)
	}
	got := SearchPath("tool", []string{"PATH=/a::/b"})
	want := []string{"/a/tool", "./tool", "/b/tool"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SearchPath = %v, want %v", got, want)
	}
}

func TestArgvIsNilTerminated(t *testing.T) {
	spec, _ := New("ls", []string{"ls", "-l"})
	argv := spec.Argv()
	if len(argv) != 3 {
		t.Fatalf("expected argc+1 entries, got %d", len(argv))
	}
	if argv[2] != nil {
		t.Fatalf("expected nil terminator")
	}
	if got := goString(argv[1]); got != "-l" {
		t.Fatalf("unexpected argv[1] %q", got)
	}

	noArgs, _ := New("ls", nil)
	if noArgs.Argv() != nil {
		t.Fatalf("expected nil vector without args")
	}
}

func TestNewRejectsNUL(t *testing.T) {
	if _, err := New("ls\x00rm", nil); err == nil {
		t.Fatalf("expected NUL rejection")
	}
	if _, err := New("ls", []string{"a\x00b"}); err == nil {
		t.Fatalf("expected NUL rejection in args")
	}
}

func TestNewNative(t *testing.T) {
	img := Image{Argv: []string{"echo", "hi"}, Candidates: []string{"/bin/echo"}}
	n := NewNative(img, []string{"A=1"})
	if len(n.Argv) != 3 || n.Argv[2] != nil {
		t.Fatalf("argv must be nil terminated")
	}
	if len(n.Envv) != 2 || n.Envv[1] != nil {
		t.Fatalf("envv must be nil terminated")
	}
	if goString(n.Paths[0]) != "/bin/echo" || goString(n.Envv[0]) != "A=1" {
		t.Fatalf("unexpected native contents")
	}
}

func goString(p *byte) string {
	if p == nil {
		return ""
	}
	var n int
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n))
}
