package main

import (
	"context"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/wolfeidau/peerhub/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Register commands.RegisterCmd `cmd:"" help:"Create an account and sign in"`
		Login    commands.LoginCmd    `cmd:"" help:"Sign in with email and password"`
		Logout   commands.LogoutCmd   `cmd:"" help:"Sign out and forget the stored session"`
		Whoami   commands.WhoamiCmd   `cmd:"" help:"Validate the stored session and show the current user"`
		Request  commands.RequestCmd  `cmd:"" help:"Send an authenticated request to the API"`
		Token    commands.TokenCmd    `cmd:"" help:"Print the stored session token"`

		Config     string        `help:"Path to the YAML config file (default ~/.peerhub/config.yaml)" env:"PEERHUB_CONFIG"`
		Server     string        `help:"API base URL, including any path prefix" env:"PEERHUB_SERVER"`
		Timeout    time.Duration `help:"Request timeout" env:"PEERHUB_TIMEOUT"`
		SessionDir string        `help:"Directory holding the stored session" env:"PEERHUB_SESSION_DIR"`
		CacheDir   string        `help:"Directory for the HTTP response cache, disabled when empty" env:"PEERHUB_CACHE_DIR"`
		Debug      bool          `help:"Enable debug mode."`
		Version    kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{
		Debug:      cli.Debug,
		Version:    version,
		Config:     cli.Config,
		Server:     cli.Server,
		Timeout:    cli.Timeout,
		SessionDir: cli.SessionDir,
		CacheDir:   cli.CacheDir,
		Stdout:     os.Stdout,
		Stdin:      os.Stdin,
	})
	cmd.FatalIfErrorf(err)
}
