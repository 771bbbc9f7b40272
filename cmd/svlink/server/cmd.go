// Package server runs simulated vehicle accepting console connections.
package server

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/svlink/cmd/svlink/subcmd"
	"github.com/temoto/svlink/device"
	"github.com/temoto/svlink/helpers/cli"
	"github.com/temoto/svlink/metrics"
	"github.com/temoto/svlink/packet"
	"github.com/temoto/svlink/state"
)

const modName = "server"

var Mod = subcmd.Mod{Name: modName, Usage: "listen for console, simulate vehicle", Main: Main}

const usage = `commands:
- help          this text
- conns         list connections
- answer ok|err answer oldest pending task
- data E P      broadcast telemetry encoder=E potentiometer=P
- state N       set device state 0=FAULT 1=RUN 2=STOP 3=WAIT
- send TEXT     broadcast raw payload
- stat          traffic counters
- stop          close listener and connections
- start         listen again
`

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.Tele.Close()

	v, err := device.New(device.Options{
		Log:         g.Log,
		Config:      config.Device,
		PersistRoot: config.Persist.Root,
	})
	if err != nil {
		return errors.Annotate(err, "device")
	}
	if err = v.Server().Start(config.ListenOptions()); err != nil {
		return errors.Annotate(err, "server start")
	}
	v.Start()
	defer v.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if config.Metrics.Listen != "" {
		srv := v.Server()
		reg, err := metrics.NewRegistry(metrics.NewCollector(modName, srv, func() int { return len(srv.Conns()) }))
		if err != nil {
			return err
		}
		if _, err = metrics.Serve(ctx, g.Log, config.Metrics.Listen, reg); err != nil {
			return err
		}
	}

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Infof("server running listen=%s identity=%s", v.Server().Addr(), v.Identity())
	if isatty.IsTerminal(os.Stdin.Fd()) {
		sh := &shell{config: config, v: v, out: os.Stdout}
		err = cli.MainLoop(ctx, "svlink-"+modName, newExecutor(ctx, sh), newCompleter())
	} else {
		subcmd.WaitSignal(ctx)
	}
	subcmd.SdNotify(daemon.SdNotifyStopping)
	g.Log.Infof("server stopping")
	return err
}

func newCompleter() cli.Complete {
	suggests := []prompt.Suggest{
		{Text: "help", Description: "show commands"},
		{Text: "conns", Description: "list connections"},
		{Text: "answer", Description: "ok|err answer oldest pending task"},
		{Text: "data", Description: "E P broadcast telemetry"},
		{Text: "state", Description: "N set device state"},
		{Text: "send", Description: "TEXT broadcast raw payload"},
		{Text: "stat", Description: "traffic counters"},
		{Text: "stop", Description: "close listener"},
		{Text: "start", Description: "listen again"},
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(ctx context.Context, sh *shell) cli.Exec {
	g := state.GetGlobal(ctx)
	return func(line string) {
		if err := sh.exec(ctx, line); err != nil {
			g.Log.Errorf(errors.ErrorStack(err))
		}
	}
}

type shell struct {
	config *state.Config
	v      *device.Vehicle
	out    io.Writer
}

func (sh *shell) printf(format string, args ...interface{}) {
	fmt.Fprintf(sh.out, strings.TrimSuffix(format, "\n")+"\n", args...)
}

func (sh *shell) exec(ctx context.Context, line string) error {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil
	}
	srv := sh.v.Server()
	switch cmd, args := words[0], words[1:]; cmd {
	case "help":
		sh.printf(usage)

	case "conns":
		for _, c := range srv.Conns() {
			sh.printf("%s trusted=%t idle=%s", c, c.Trusted(), c.SinceLastRecv())
		}
		sh.printf("pending tasks=%d", srv.Coi().Len())

	case "answer":
		t := packet.AnswerSuccess
		if len(args) > 0 {
			switch args[0] {
			case "ok":
			case "err":
				t = packet.AnswerError
			default:
				return errors.NotValidf("answer=%s", args[0])
			}
		}
		return sh.v.TaskDone(ctx, t)

	case "data":
		xs, err := subcmd.ParseInt32s(args, 2)
		if err != nil {
			return err
		}
		return sh.v.TestData(ctx, xs[0], xs[1])

	case "state":
		xs, err := subcmd.ParseInt32s(args, 1)
		if err != nil {
			return err
		}
		if xs[0] < math.MinInt8 || xs[0] > math.MaxInt8 {
			return errors.NotValidf("state=%d out of int8 range", xs[0])
		}
		sh.v.SetState(packet.State(xs[0]))

	case "send":
		if len(args) == 0 {
			return errors.NotValidf("send without payload")
		}
		return srv.SendAllRaw(ctx, []byte(strings.Join(args, " ")))

	case "stat":
		stat := srv.Stat()
		sh.printf("%s", stat.String())

	case "stop":
		return srv.Stop()

	case "start":
		return srv.Start(sh.config.ListenOptions())

	default:
		return errors.NotFoundf("command=%s", cmd)
	}
	return nil
}
