package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"vmproc/internal/cli/command"
	"vmproc/internal/cli/state"
	"vmproc/internal/process/launcher"
	"vmproc/internal/process/spawn"
	"vmproc/internal/vm/phase"
	pkgerrors "vmproc/pkg/errors"
	"vmproc/pkg/utils/contextkey"
	"vmproc/pkg/utils/logger"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// Session holds REPL state.
type Session struct {
	launcher     launcher.Launcher
	worker       *phase.Worker
	commands     map[string]command.Command
	defaults     spawn.Options
	jobs         *state.Jobs
	outputWriter *bufio.Writer
	// exit terminates a forked child.
	exit func(code int)
}

func New(l launcher.Launcher, w *phase.Worker, defaults spawn.Options, jobs *state.Jobs, out io.Writer) *Session {
	if out == nil {
		out = os.Stdout
	}
	return &Session{
		launcher:     l,
		worker:       w,
		commands:     command.Registry(),
		defaults:     defaults,
		jobs:         jobs,
		outputWriter: bufio.NewWriter(out),
		exit:         os.Exit,
	}
}

// Run reads lines until exit or end of input. SIGINT received while a
// command runs interrupts the session's worker.
func (s *Session) Run(ctx context.Context, prompt, historyFile string) error {
	isTerminal := func() bool {
		return term.IsTerminal(int(os.Stdin.Fd()))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		FuncIsTerminal:  isTerminal,
	})
	if err != nil {
		return fmt.Errorf("init line editor failed: %w", err)
	}
	defer rl.Close()
	s.outputWriter = bufio.NewWriter(rl.Stdout())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)
	stop := make(chan struct{})
	defer close(stop)
	threading.GoSafe(func() {
		for {
			select {
			case <-sigCh:
				s.worker.Interrupt()
			case <-stop:
				return
			}
		}
	})

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Drop an interrupt that arrived while the prompt was idle.
		_ = s.worker.CheckInterrupts(context.Background(), "prompt")
		done, err := s.Execute(ctx, line)
		if err != nil {
			s.printError(err)
		}
		if done {
			return nil
		}
	}
}

// Execute runs one command line. It reports true when the session should end.
func (s *Session) Execute(ctx context.Context, line string) (bool, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return false, fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return false, nil
	}
	name := strings.ToLower(tokens[0])
	if name == "quit" {
		name = "exit"
	}
	cmd, ok := s.commands[name]
	if !ok {
		return false, fmt.Errorf("unknown command: %s, type help", tokens[0])
	}
	args := tokens[1:]
	if len(args) < cmd.MinArgs {
		return false, fmt.Errorf("usage: %s", cmd.Usage)
	}
	ctx = context.WithValue(ctx, contextkey.Operation, name)

	switch name {
	case "exit":
		s.printLine("bye")
		return true, nil
	case "help":
		s.printHelp()
		return false, nil
	case "jobs":
		s.handleJobs()
		return false, nil
	case "spawn":
		return false, s.handleSpawn(ctx, args)
	case "backtick":
		return false, s.handleBacktick(ctx, strings.Join(args, " "))
	case "wait":
		return false, s.handleWait(ctx, args, cmd)
	case "exec":
		return false, s.handleExec(ctx, args)
	case "fork":
		return false, s.handleFork(ctx)
	}
	return false, nil
}

func (s *Session) handleSpawn(ctx context.Context, args []string) error {
	req, err := command.ParseSpawn(s.defaults, args)
	if err != nil {
		return err
	}
	pid, err := s.launcher.Spawn(ctx, s.worker, req.Config, req.Command, req.Args)
	if err != nil {
		return err
	}
	display := req.Command
	if req.Args != nil {
		display = strings.Join(req.Args, " ")
	}
	s.jobs.Add(pid, display)
	s.printLine("[%d] %s", pid, display)
	return nil
}

func (s *Session) handleBacktick(ctx context.Context, cmd string) error {
	pid, out, err := s.launcher.Backtick(ctx, s.worker, cmd)
	if err != nil {
		if pid > 0 && pkgerrors.Is(err, pkgerrors.Interrupted) {
			s.jobs.Add(pid, cmd)
			s.printLine("[%d] %s", pid, cmd)
		}
		return err
	}
	_, _ = s.outputWriter.Write(out)
	_ = s.outputWriter.Flush()

	status, err := s.launcher.WaitPid(ctx, s.worker, pid, false)
	if err != nil {
		return err
	}
	if status.Outcome != launcher.Reaped {
		s.jobs.Add(pid, cmd)
		s.printLine("%s", status)
		return nil
	}
	if status.ExitCode == nil || *status.ExitCode != 0 {
		s.printLine("%s", status)
	}
	return nil
}

func (s *Session) handleWait(ctx context.Context, args []string, cmd command.Command) error {
	pid, err := command.ParseInt(args[0])
	if err != nil {
		return fmt.Errorf("usage: %s", cmd.Usage)
	}
	noHang := false
	if len(args) > 1 {
		if args[1] != "nohang" {
			return fmt.Errorf("usage: %s", cmd.Usage)
		}
		noHang = true
	}
	status, err := s.launcher.WaitPid(ctx, s.worker, pid, noHang)
	if err != nil {
		return err
	}
	switch status.Outcome {
	case launcher.Reaped, launcher.NoChild:
		s.jobs.Remove(pid)
	}
	s.printLine("%s", status)
	return nil
}

func (s *Session) handleExec(ctx context.Context, args []string) error {
	var argv []string
	if len(args) > 1 {
		argv = args
	}
	return s.launcher.Exec(ctx, s.worker, args[0], argv)
}

func (s *Session) handleFork(ctx context.Context) error {
	res, err := s.launcher.Fork(ctx, s.worker)
	if err != nil {
		return err
	}
	if res.Child {
		s.printLine("child %d exiting", os.Getpid())
		_ = logger.Sync()
		s.exit(0)
		return nil
	}
	s.jobs.Add(res.Pid, "fork")
	s.printLine("[%d] fork", res.Pid)
	return nil
}

func (s *Session) handleJobs() {
	jobs := s.jobs.List()
	if len(jobs) == 0 {
		s.printLine("no jobs")
		return
	}
	for _, job := range jobs {
		s.printLine("[%d] %s (started %s)", job.Pid, job.Command, job.StartedAt.Format("15:04:05"))
	}
}

func (s *Session) printError(err error) {
	logger.Debug(context.Background(), "command failed",
		zap.Int("code", int(pkgerrors.GetCode(err))), zap.Error(err))
	s.printLine("error: %v", err)
}

func (s *Session) printHelp() {
	for _, name := range command.Names(s.commands) {
		cmd := s.commands[name]
		s.printLine("  %-9s %s", name, cmd.Summary)
		s.printLine("            %s", cmd.Usage)
	}
	s.printLine("examples:")
	s.printLine("  spawn umask=022 chdir=/tmp -- ls -l")
	s.printLine("  backtick \"echo hello | tr a-z A-Z\"")
	s.printLine("  wait 4242 nohang")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.outputWriter, format+"\n", args...)
	_ = s.outputWriter.Flush()
}
