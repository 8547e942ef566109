package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"vmproc/internal/process/spawn"
)

// Registry returns all procsh commands keyed by name.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:    "spawn",
			Usage:   "spawn [env=K=V] [unset=K] [chdir=DIR] [umask=022] [pgroup=N] [close_others=true] [assign=FD:PATH[:MODE[:PERM]]] [redirect=FROM:TO] [--] CMD [ARGS...]",
			Summary: "start a child process and print its pid",
			MinArgs: 1,
		},
		{
			Name:    "backtick",
			Usage:   "backtick CMD",
			Summary: "run a command and print its standard output",
			MinArgs: 1,
		},
		{
			Name:    "wait",
			Usage:   "wait PID [nohang]",
			Summary: "reap a child and print its exit status",
			MinArgs: 1,
		},
		{
			Name:    "exec",
			Usage:   "exec CMD [ARGS...]",
			Summary: "replace procsh with a command",
			MinArgs: 1,
		},
		{
			Name:    "fork",
			Usage:   "fork",
			Summary: "fork procsh; the child exits immediately",
		},
		{
			Name:    "jobs",
			Usage:   "jobs",
			Summary: "list children that have not been reaped",
		},
		{
			Name:    "help",
			Usage:   "help",
			Summary: "show this help",
		},
		{
			Name:    "exit",
			Usage:   "exit",
			Summary: "leave procsh",
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Name] = cmd
	}
	return result
}

// Names returns the registered command names in sorted order.
func Names(commands map[string]Command) []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SpawnRequest is a parsed spawn command line.
type SpawnRequest struct {
	Config  *spawn.Config
	Command string
	Args    []string
}

// ParseSpawn parses the tokens after "spawn". Options are applied on top of
// defaults in the order they appear. With a single command token the command
// string is passed without arguments so shell routing applies; with several
// tokens they become the argument vector.
func ParseSpawn(defaults spawn.Options, tokens []string) (SpawnRequest, error) {
	b := defaults.Apply(spawn.NewBuilder())
	i := 0
	for ; i < len(tokens); i++ {
		if tokens[i] == "--" {
			i++
			break
		}
		opt, ok := SplitOption(tokens[i])
		if !ok || !isSpawnOption(opt.Key) {
			break
		}
		if err := applyOption(b, opt); err != nil {
			return SpawnRequest{}, err
		}
	}
	rest := tokens[i:]
	if len(rest) == 0 {
		return SpawnRequest{}, fmt.Errorf("missing command")
	}
	cfg, err := b.Build()
	if err != nil {
		return SpawnRequest{}, err
	}
	req := SpawnRequest{Config: cfg, Command: rest[0]}
	if len(rest) > 1 {
		req.Args = append([]string(nil), rest...)
	}
	return req, nil
}

func isSpawnOption(key string) bool {
	switch key {
	case "env", "unset", "chdir", "umask", "pgroup", "close_others", "assign", "redirect":
		return true
	}
	return false
}

func applyOption(b *spawn.Builder, opt Option) error {
	switch opt.Key {
	case "env":
		kv, ok := SplitOption(opt.Value)
		if !ok {
			return fmt.Errorf("invalid env %q, use env=KEY=VALUE", opt.Value)
		}
		// SplitOption lowercases keys; keep the variable name as typed.
		key := opt.Value[:strings.IndexByte(opt.Value, '=')]
		b.SetEnv(key, kv.Value)
	case "unset":
		b.UnsetEnv(opt.Value)
	case "chdir":
		b.Chdir(opt.Value)
	case "umask":
		mask, err := ParseOctal(opt.Value)
		if err != nil {
			return err
		}
		b.Umask(mask)
	case "pgroup":
		pgid, err := ParseInt(opt.Value)
		if err != nil {
			return fmt.Errorf("invalid pgroup %q", opt.Value)
		}
		b.Pgroup(pgid)
	case "close_others":
		enabled, err := ParseBool(opt.Value)
		if err != nil {
			return fmt.Errorf("invalid close_others %q", opt.Value)
		}
		b.CloseOthers(enabled)
	case "assign":
		return applyAssign(b, opt.Value)
	case "redirect":
		parts := strings.Split(opt.Value, ":")
		if len(parts) != 2 {
			return fmt.Errorf("invalid redirect %q, use redirect=FROM:TO", opt.Value)
		}
		from, err1 := ParseInt(parts[0])
		to, err2 := ParseInt(parts[1])
		if err1 != nil || err2 != nil {
			return fmt.Errorf("invalid redirect %q", opt.Value)
		}
		b.RedirectFD(from, to)
	}
	return nil
}

// applyAssign parses FD:PATH[:MODE[:PERM]].
func applyAssign(b *spawn.Builder, value string) error {
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 4 {
		return fmt.Errorf("invalid assign %q, use assign=FD:PATH[:MODE[:PERM]]", value)
	}
	fd, err := ParseInt(parts[0])
	if err != nil {
		return fmt.Errorf("invalid assign descriptor %q", parts[0])
	}
	mode := ""
	if len(parts) > 2 {
		mode = parts[2]
	}
	flags, err := spawn.ParseMode(mode)
	if err != nil {
		return err
	}
	perm := uint64(spawn.DefaultPerm)
	if len(parts) > 3 {
		perm, err = strconv.ParseUint(parts[3], 8, 32)
		if err != nil {
			return fmt.Errorf("invalid assign permission %q", parts[3])
		}
	}
	b.AssignFD(fd, parts[1], flags, uint32(perm))
	return nil
}
