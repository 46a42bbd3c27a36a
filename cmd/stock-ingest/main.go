package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file (default $CONFIG_PATH, then configs/config.yaml)")

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&runCmd{configPath: configPath}, "")
	commander.Register(&migrateCmd{configPath: configPath}, "")
	commander.Register(&serveCmd{configPath: configPath}, "")
	commander.Register(&scheduleCmd{configPath: configPath}, "")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := commander.Execute(ctx)
	stop()
	os.Exit(int(status))
}
