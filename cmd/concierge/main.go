package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"concierge/cmd/concierge/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		EnvFile []string            `help:"dotenv files to load before reading the environment" default:".env"`
		Version kong.VersionFlag    `help:"Print version and exit."`
		Serve   commands.ServeCmd   `cmd:"" default:"1" help:"Serve the admin API, with the notification worker embedded unless disabled"`
		Worker  commands.WorkerCmd  `cmd:"" help:"Run the notification worker on its own"`
		Migrate commands.MigrateCmd `cmd:"" help:"Apply the database schema and exit"`
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("concierge"),
		kong.Description("Organization provisioning backend."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{EnvFiles: cli.EnvFile, Version: version})
	cmd.FatalIfErrorf(err)
}
