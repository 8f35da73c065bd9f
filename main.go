package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/koskedk/dwh-identity/internal/bootstrap"
	"github.com/koskedk/dwh-identity/internal/config"
	"github.com/koskedk/dwh-identity/internal/keys"
	"github.com/koskedk/dwh-identity/internal/version"

	"github.com/urfave/cli/v2"
)

func main() {
	cli.VersionPrinter = func(*cli.Context) { version.PrintVersion() }

	app := &cli.App{
		Name:    version.App,
		Usage:   "OpenID Connect identity provider for the DWH portals",
		Version: version.Version,
		Commands: []*cli.Command{
			serveCommand,
			generateKeyCommand,
			seedCommand,
			versionCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Start the identity server",
	Action: func(*cli.Context) error {
		return bootstrap.Run(context.Background(), config.Load())
	},
}

var generateKeyCommand = &cli.Command{
	Name:  "generate-key",
	Usage: "Write a new PEM encoded signing key",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "out",
			Aliases:  []string{"o"},
			Usage:    "path of the key file",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "alg",
			Usage: "signing algorithm (RS256 or ES256)",
			Value: config.SigningAlgRS256,
		},
		&cli.BoolFlag{
			Name:  "force",
			Usage: "overwrite an existing file",
		},
	},
	Action: func(c *cli.Context) error {
		path := c.String("out")
		if _, err := os.Stat(path); err == nil && !c.Bool("force") {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		key, err := keys.Generate(c.String("alg"))
		if err != nil {
			return err
		}
		if err := keys.WritePEMFile(path, key); err != nil {
			return err
		}
		fmt.Printf("Wrote %s key to %s (kid=%s)\n", key.Algorithm, path, key.ID)
		return nil
	},
}

var seedCommand = &cli.Command{
	Name:  "seed",
	Usage: "Register the default scopes, clients and admin account, then exit",
	Action: func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := config.Load()
		// New seeds when SeedDefaults is set
		cfg.SeedDefaults = true
		app, err := bootstrap.New(ctx, cfg)
		if err != nil {
			return err
		}
		app.Close()
		log.Println("[Seed] Done")
		return nil
	},
}

var versionCommand = &cli.Command{
	Name:  "version",
	Usage: "Show version information",
	Action: func(*cli.Context) error {
		version.PrintVersion()
		return nil
	},
}
