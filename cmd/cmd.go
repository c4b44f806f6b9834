// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// outputFlags returns new --json and --pretty flags followed by extra.
func outputFlags(extra ...cli.Flag) []cli.Flag {
	return append([]cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print output",
		},
	}, extra...)
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create the config file if missing, initialize the database and run migrations",
		Action: r.Setup,
	}
}

func configCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration helpers",
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write the example configuration",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Where to write the file",
						Value:   "config.toml",
					},
				},
				Action: r.ConfigInit,
			},
			{
				Name:   "show",
				Usage:  "Print the effective configuration",
				Action: r.ConfigShow,
			},
		},
	}
}

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides server.host and server.port",
			},
		},
		Action: r.Serve,
	}
}

func watchFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "tui",
		Usage: "Follow progress in the terminal UI",
	}
}

func fetchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "fetch",
		Aliases: []string{"download"},
		Usage:   "Download a video, playlist or channel into the library",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "url"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mode",
				Aliases: []string{"m"},
				Usage:   "What to fetch: video, playlist or channel",
				Value:   "channel",
			},
			&cli.BoolFlag{
				Name:  "video",
				Usage: "Keep the video instead of extracting mp3",
			},
			&cli.StringFlag{
				Name:  "collection",
				Usage: "Collection to write to, derived from the URL by default",
			},
			watchFlag(),
		},
		Action: r.Fetch,
	}
}

func isolateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "isolate",
		Usage: "Separate the items of a collection into stems",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "collection"},
			&cli.StringArg{Name: "item"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "single-stem",
				Usage: "Only produce this stem",
			},
			watchFlag(),
		},
		Action: r.Isolate,
	}
}

func coverCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cover",
		Usage: "Generate an AI cover of an item from one of its stems",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "collection"},
			&cli.StringArg{Name: "item"},
		},
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "stem",
				Aliases: []string{"s"},
				Usage:   "Stem role to use (Vocals, Drums, Bass, Other); repeatable",
				Value:   []string{"Vocals"},
			},
			&cli.StringFlag{
				Name:  "genre",
				Usage: "Style prompt for the cover",
			},
			watchFlag(),
		},
		Action: r.Cover,
	}
}

func restoreCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "restore",
		Usage: "Download missing files of a collection from remote storage",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "collection"},
			&cli.StringArg{Name: "item"},
		},
		Flags:  []cli.Flag{watchFlag()},
		Action: r.Restore,
	}
}

func libraryCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "library",
		Aliases: []string{"lib"},
		Usage:   "Browse the library",
		Commands: []*cli.Command{
			{
				Name:   "collections",
				Usage:  "List collections",
				Flags:  outputFlags(),
				Action: r.Collections,
			},
			{
				Name:  "items",
				Usage: "List the items of a collection, local and remote",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "collection"},
				},
				Flags: outputFlags(
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format (text, csv, md, json)",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Export file path, defaults to {collection}.{ext}",
					},
				),
				Action: r.Items,
			},
			{
				Name:  "stems",
				Usage: "List the stems of an item",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "collection"},
					&cli.StringArg{Name: "item"},
				},
				Flags:  outputFlags(),
				Action: r.Stems,
			},
			{
				Name:   "samples",
				Usage:  "List sample groups",
				Flags:  outputFlags(),
				Action: r.Samples,
			},
		},
	}
}

func deleteCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete files of a collection or item",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "collection"},
			&cli.StringArg{Name: "item"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "What to delete: all, stems, covers or primary",
				Value: "all",
			},
			&cli.BoolFlag{
				Name:  "local-only",
				Usage: "Keep the remote copies",
			},
		},
		Action: r.Delete,
	}
}

func storageCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "storage-info",
		Usage:  "Show local and remote storage usage",
		Flags:  outputFlags(),
		Action: r.StorageInfo,
	}
}

func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "db",
		Usage: "Database maintenance",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply pending migrations",
				Action: r.Setup,
			},
			{
				Name:   "rollback",
				Usage:  "Revert the latest migration",
				Action: r.Rollback,
			},
		},
	}
}

func jobsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Show job history",
		Flags: outputFlags(
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of jobs to show",
				Value: 20,
			},
			&cli.DurationFlag{
				Name:  "prune",
				Usage: "Delete history older than this before listing",
			},
		),
		Action: r.Jobs,
	}
}

func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Browse the library and launch jobs interactively",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where to write logs while the UI runs",
				Value: "./tmp/stemx-tui.log",
			},
		},
		Action: r.TUI,
	}
}
