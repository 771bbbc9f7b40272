// Package console is operator shell controlling remote vehicle.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/svlink/cmd/svlink/subcmd"
	console_api "github.com/temoto/svlink/console"
	"github.com/temoto/svlink/helpers/cli"
	"github.com/temoto/svlink/metrics"
	"github.com/temoto/svlink/state"
)

const modName = "console"

var Mod = subcmd.Mod{Name: modName, Usage: "[url] connect to vehicle, operator shell", Main: Main}

const usage = `commands:
- help             this text
- connect [url]    connect to vehicle, default from config
- disconnect       close connection
- forward D        task: drive distance D
- wheels D         task: turn wheels D degrees
- flick            task: flick
- settings 12xF    load tuning: steering P I D zero, forward P I D int, backward P I D int
- upload           request current settings from vehicle
- control X Y      manual steering and speed
- status           connection state, identity, last settings
- stat             traffic counters
`

func Main(ctx context.Context, config *state.Config, args []string) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	defer g.Tele.Close()

	c := console_api.New(console_api.Options{
		Log:     g.Log,
		Session: config.SessionOptions(g.Log),
		Tele:    g.Tele,
		OnSample: func(s console_api.Sample) {
			g.Log.Infof("t=%.3f state=%s encoder=%d potentiometer=%d speed=%.2f",
				s.Seconds, s.State, s.Encoder, s.Potentiometer, s.Speed)
		},
	})
	defer c.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if config.Metrics.Listen != "" {
		reg, err := metrics.NewRegistry(metrics.NewCollector(modName, c.Session(), nil))
		if err != nil {
			return err
		}
		if _, err = metrics.Serve(ctx, g.Log, config.Metrics.Listen, reg); err != nil {
			return err
		}
	}

	sh := &shell{config: config, c: c, out: os.Stdout}
	if len(args) > 0 {
		if err := sh.exec(ctx, "connect "+args[0]); err != nil {
			return err
		}
	}
	return cli.MainLoop(ctx, "svlink-"+modName, newExecutor(ctx, sh), newCompleter())
}

func newCompleter() cli.Complete {
	suggests := []prompt.Suggest{
		{Text: "help", Description: "show commands"},
		{Text: "connect", Description: "[url] connect to vehicle"},
		{Text: "disconnect", Description: "close connection"},
		{Text: "forward", Description: "D drive distance"},
		{Text: "wheels", Description: "D turn wheels"},
		{Text: "flick", Description: "flick"},
		{Text: "settings", Description: "12 numbers, load tuning"},
		{Text: "upload", Description: "request current settings"},
		{Text: "control", Description: "X Y manual control"},
		{Text: "status", Description: "connection state"},
		{Text: "stat", Description: "traffic counters"},
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
	c      *console_api.Console
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
	c := sh.c
	switch cmd, args := words[0], words[1:]; cmd {
	case "help":
		sh.printf(usage)

	case "connect":
		url := sh.config.ClientURL()
		if len(args) > 0 {
			url = args[0]
		}
		return c.Connect(ctx, url)

	case "disconnect":
		return c.Disconnect()

	case "forward", "wheels":
		xs, err := subcmd.ParseInt32s(args, 1)
		if err != nil {
			return err
		}
		var coi int8
		if cmd == "forward" {
			coi, err = c.Forward(ctx, xs[0])
		} else {
			coi, err = c.Wheels(ctx, xs[0])
		}
		if err == nil {
			sh.printf("%s sent coi=%d", cmd, coi)
		}
		return err

	case "flick":
		coi, err := c.Flick(ctx)
		if err == nil {
			sh.printf("flick sent coi=%d", coi)
		}
		return err

	case "settings":
		t, err := console_api.ParseTuning(args)
		if err != nil {
			return err
		}
		coi, err := c.LoadSettings(ctx, t)
		if err == nil {
			sh.printf("settings sent coi=%d", coi)
		}
		return err

	case "upload":
		return c.RequestSettings(ctx)

	case "control":
		xs, err := subcmd.ParseInt32s(args, 2)
		if err != nil {
			return err
		}
		return c.Control(ctx, xs[0], xs[1])

	case "status":
		sh.printf("session=%s", c.Session().State())
		a := c.Identity()
		sh.printf("device type=%d id=%d state=%s", a.DeviceType, a.DeviceID, console_api.StateString(int8(a.State)))
		if s, ok := c.LastSettings(); ok {
			sh.printf("settings %s", s)
		}

	case "stat":
		stat := c.Session().Stat()
		sh.printf("%s", stat.String())

	default:
		return errors.NotFoundf("command=%s", cmd)
	}
	return nil
}
