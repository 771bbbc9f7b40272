// Support sub-commands in svlink application.
// It's simple but fine so far.
package subcmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/svlink/state"
)

type Mod struct {
	Name  string
	Usage string
	Main  func(context.Context, *state.Config, []string) error
}

func Parse(command string, modules []Mod) (*Mod, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	var found *Mod
	for i := range modules {
		m := &modules[i]
		if m.Name == "" {
			panic(fmt.Sprintf("code error Name='' module=%#v", m))
		}
		if command == m.Name {
			found = m
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("unknown command='%s'", command)
	}
	return found, nil
}

func Usage(modules []Mod) string {
	var b strings.Builder
	for _, m := range modules {
		fmt.Fprintf(&b, "  %-8s %s\n", m.Name, m.Usage)
	}
	return b.String()
}

func SdNotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}

// WaitSignal blocks until termination signal or ctx is done.
func WaitSignal(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(ch)
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

// ParseInt32s parses exactly n decimal shell arguments.
func ParseInt32s(args []string, n int) ([]int32, error) {
	if len(args) != n {
		return nil, errors.NotValidf("expected %d numbers, got %d", n, len(args))
	}
	r := make([]int32, n)
	for i, s := range args {
		x, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, errors.Annotatef(err, "arg=%d", i+1)
		}
		r[i] = int32(x)
	}
	return r, nil
}
