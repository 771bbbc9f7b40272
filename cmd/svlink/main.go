package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/svlink/cmd/svlink/addrs"
	"github.com/temoto/svlink/cmd/svlink/console"
	"github.com/temoto/svlink/cmd/svlink/server"
	"github.com/temoto/svlink/cmd/svlink/subcmd"
	"github.com/temoto/svlink/log2"
	"github.com/temoto/svlink/state"
	"github.com/temoto/svlink/tele"
)

var log = log2.NewStderr(log2.LInfo)

var modules = []subcmd.Mod{
	server.Mod,
	console.Mod,
	addrs.Mod,
}

func main() {
	flagset := flag.NewFlagSet("svlink", flag.ExitOnError)
	configPath := flagset.String("config", "svlink.hcl", "")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "Usage: svlink [-config svlink.hcl] command [args]\n\nCommands:\n%s\nFlags:\n", subcmd.Usage(modules))
		flagset.PrintDefaults()
	}
	if err := flagset.Parse(os.Args[1:]); err != nil {
		log.Fatal(err)
	}

	mod, err := subcmd.Parse(flagset.Arg(0), modules)
	if err != nil {
		flagset.Usage()
		log.Fatal(err)
	}

	if subcmd.SdNotify("start") {
		// under systemd, assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	config := state.MustReadConfig(log, state.NewOsFullReader(), *configPath)
	ctx, g := state.NewContext(log, tele.New())
	defer g.Alive.Stop()
	log.Debugf("svlink command=%s", mod.Name)
	if err := mod.Main(ctx, config, flagset.Args()[1:]); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
