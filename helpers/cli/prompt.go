package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

type Exec func(line string)
type Complete func(d prompt.Document) []prompt.Suggest

// MainLoop runs interactive prompt when stdin is a terminal, otherwise executes stdin line by line.
// Returns on EOF, termination signal or ctx cancel.
func MainLoop(ctx context.Context, tag string, exec Exec, complete Complete) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(signalCh)
	go func() {
		select {
		case <-signalCh:
			cancel()
			// go-prompt owns the terminal and does not watch context
			if isatty.IsTerminal(os.Stdin.Fd()) {
				os.Exit(1)
			}
		case <-ctx.Done():
		}
	}()

	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(prompt.Executor(exec), prompt.Completer(complete),
			prompt.OptionPrefix(tag+"> "),
			prompt.OptionTitle(tag),
		).Run()
		return nil
	}
	return ReadLines(ctx, os.Stdin, exec)
}

// ReadLines executes each trimmed non-empty line from r.
func ReadLines(ctx context.Context, r io.Reader, exec Exec) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		exec(line)
	}
	return errors.Annotate(scanner.Err(), "stdin")
}
