// submodule cmd contains command definitions
package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/ridex/internal/formatter"
	"github.com/desertthunder/ridex/internal/models"
	"github.com/urfave/cli/v3"
)

func formatUsage() string {
	names := make([]string, len(formatter.Formats))
	for i, f := range formatter.Formats {
		names[i] = string(f)
	}
	return fmt.Sprintf("Output format (%s)", strings.Join(names, ", "))
}

// serveCommand runs the ride server
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the ride server (HTTP API and websocket hub)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Interface to listen on (overrides server.host)",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on (overrides server.port)",
			},
			&cli.BoolFlag{
				Name:  "no-persist",
				Usage: "Keep rides in memory only",
			},
		},
		Action: r.Serve,
	}
}

// setupCommand handles setup operations for the database and configuration.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "config",
				Usage:  "Write a config file from the built-in template",
				Action: r.SetupConfig,
			},
		},
	}
}

func trackFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "username",
			Aliases: []string{"u"},
			Usage:   "Name shown to other riders (default: client.username)",
		},
		&cli.DurationFlag{
			Name:  "every",
			Usage: "How often to print the roster",
			Value: 10 * time.Second,
		},
		&cli.BoolFlag{
			Name:  "no-qr",
			Usage: "Do not print the join link as a QR code",
		},
	}
}

// rideCommand handles ride operations
func rideCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "ride",
		Usage: "Create, join and inspect rides",
		Commands: []*cli.Command{
			{
				Name:   "create",
				Usage:  "Start a new ride and share your position until interrupted",
				Flags:  trackFlags(),
				Action: r.RideTrack(models.ActionCreate),
			},
			{
				Name:  "join",
				Usage: "Join a ride by code or join link and share your position until interrupted",
				Flags: append(trackFlags(),
					&cli.StringFlag{
						Name:    "ride-id",
						Aliases: []string{"r"},
						Usage:   "Ride code",
					},
					&cli.StringFlag{
						Name:  "link",
						Usage: "Join link (its ride_id query is used)",
					},
				),
				Action: r.RideTrack(models.ActionJoin),
			},
			{
				Name:  "users",
				Usage: "List the riders of a ride",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "ride-id",
						Aliases: []string{"r"},
						Usage:   "Ride code; all rides when empty",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   formatUsage(),
						Value:   string(formatter.FormatText),
					},
				},
				Action: r.RideUsers,
			},
			{
				Name:  "history",
				Usage: "Show recorded positions from the local database",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "ride-id",
						Aliases:  []string{"r"},
						Usage:    "Ride code",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "session-id",
						Usage: "Only this rider's session",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Most recent points to show (0 for all)",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   formatUsage(),
						Value:   string(formatter.FormatText),
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write to a file instead of stdout ('-' picks {ride}_history.{ext})",
					},
				},
				Action: r.RideHistory,
			},
			{
				Name:  "export",
				Usage: "Export the history of many rides to a directory",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "ride-id",
						Aliases: []string{"r"},
						Usage:   "Ride codes; every recorded ride when empty",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   formatUsage(),
						Value:   string(formatter.FormatCSV),
					},
					&cli.StringFlag{
						Name:    "dir",
						Aliases: []string{"d"},
						Usage:   "Output directory (default: ride_export_{epoch})",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent writers",
						Value: 4,
					},
					&cli.FloatFlag{
						Name:  "rate",
						Usage: "Rides read per second (0 for unlimited)",
					},
				},
				Action: r.RideExport,
			},
		},
	}
}

// apiCommand handles direct ride API calls
func apiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Direct calls to the ride server API",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Direct GET to the ride server, prints raw JSON",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
						Value: true,
					},
				},
				Action: r.APIGet,
			},
		},
	}
}

// tuiCommand returns the top-level TUI command.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch the interactive ride tracker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "username",
				Aliases: []string{"u"},
				Usage:   "Pre-fill the name field",
			},
			&cli.StringFlag{
				Name:    "ride-id",
				Aliases: []string{"r"},
				Usage:   "Ride code; opens the form in join mode",
			},
			&cli.StringFlag{
				Name:  "link",
				Usage: "Join link; opens the form in join mode",
			},
		},
		Action: r.TUI,
	}
}
