// shellsession-demo exercises the shell package as an in-process
// library — there is no daemon and no socket. Each invocation runs one
// action against a registry that lives only for the process's lifetime,
// except that "list"/"poll"/etc. only make sense against sessions
// started by a long-running caller; this binary is a demonstration
// harness, not a supervisor.
//
// Usage:
//
//	shellsession-demo run [--pty] [--background] [--timeout N] [--yield-ms N] <command>
//	shellsession-demo attach <command>   – run interactively, raw-mode terminal, PTY transport
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ianremillard/shellsession/internal/logger"
	"github.com/ianremillard/shellsession/internal/shell"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		cmdRun()
	case "attach":
		cmdAttach()
	default:
		fmt.Fprintf(os.Stderr, "shellsession-demo: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `shellsession-demo – exercise the shell-session library

  run <command>     Start a command and print its result once settled
  attach <command>  Run a command interactively in a raw-mode PTY session`)
}

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	usePTY := fs.Bool("pty", false, "prefer a PTY transport")
	background := fs.Bool("background", false, "start already-backgrounded")
	timeout := fs.Int("timeout", shell.DefaultTimeoutSeconds, "seconds before the process tree is killed")
	yieldMs := fs.Int("yield-ms", 0, "synchronous wait before backgrounding (0 = process default)")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: shellsession-demo run [flags] <command>")
		os.Exit(1)
	}
	command := fs.Arg(0)

	log := logger.Default()
	registry := shell.NewRegistry(log)
	defer registry.Close()
	executor := shell.NewExecutor(registry, log, shell.DefaultsFromEnv())
	bash := shell.NewBashTool(executor, log)

	stdinMode := shell.StdinPipe
	if *usePTY {
		stdinMode = shell.StdinPTY
	}

	ctx, cancel := signalContext()
	defer cancel()

	result := bash.Execute(ctx, shell.BashParams{
		Command:    command,
		Background: *background,
		Timeout:    *timeout,
		YieldMs:    *yieldMs,
		StdinMode:  stdinMode,
	}, func(u shell.Update) {
		if u.Stdout != "" {
			fmt.Fprint(os.Stdout, u.Stdout)
		}
		if u.Stderr != "" {
			fmt.Fprint(os.Stderr, u.Stderr)
		}
	})

	fmt.Printf("\nstatus=%s sessionId=%s\n", result.Details.Status, result.Details.SessionID)
	if result.Details.Status == shell.ResultFailed {
		fmt.Fprintln(os.Stderr, result.Content[0].Text)
		os.Exit(1)
	}
}

// cmdAttach runs a command in a backgrounded PTY session and polls it in
// a loop, relaying stdin via Controller.Write and printing drained
// output — the same contract any agent-layer caller gets, just driven
// from a terminal instead of a tool call. The local terminal is put in
// raw mode so keystrokes (including control characters) reach the child
// untranslated. There is no separate detach keystroke: this session has
// no daemon to keep it alive once the process exits.
func cmdAttach() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: shellsession-demo attach <command>")
		os.Exit(1)
	}
	command := os.Args[2]

	log := logger.Default()
	registry := shell.NewRegistry(log)
	defer registry.Close()
	executor := shell.NewExecutor(registry, log, shell.DefaultsFromEnv())
	controller := shell.NewController(registry, log)

	fd := int(os.Stdin.Fd())
	var restore *term.State
	if term.IsTerminal(fd) {
		prev, err := term.MakeRaw(fd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "shellsession-demo: cannot set raw mode: %v\n", err)
			os.Exit(1)
		}
		restore = prev
		defer term.Restore(fd, restore)
	}

	ctx, cancel := signalContext()
	defer cancel()

	result, err := executor.Start(ctx, shell.StartParams{
		Command:    command,
		PreferPTY:  true,
		Background: true,
	}, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shellsession-demo: %v\n", err)
		os.Exit(1)
	}
	sessionID := result.Session.ID
	fmt.Fprintf(os.Stderr, "attached to session %s (pid %d); Ctrl-C to stop\r\n", sessionID, result.Session.PID)

	go relayStdin(controller, sessionID)

	for {
		select {
		case <-ctx.Done():
			controller.Kill(sessionID)
			return
		default:
		}

		poll, err := controller.Poll(sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\r\nshellsession-demo: %v\r\n", err)
			return
		}
		if poll.Output != "" && poll.Output != "(no new output)" {
			fmt.Print(poll.Output)
		}
		if !poll.Running {
			fmt.Fprintf(os.Stderr, "\r\nsession finished: exitCode=%v signal=%s\r\n", poll.ExitCode, poll.ExitSignal)
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// relayStdin forwards raw terminal input to the session's stdin a byte
// at a time, so control characters reach the PTY untranslated.
func relayStdin(controller *shell.Controller, sessionID string) {
	reader := bufio.NewReader(os.Stdin)
	buf := make([]byte, 1)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if werr := controller.Write(sessionID, string(buf[:n]), false); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
