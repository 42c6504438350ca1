package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	version = "0.1.0"
)

func newApp() *cli.App {
	return &cli.App{
		Name:    "negraph",
		Usage:   "Inspect and administer the conversation checkpoint store",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"NEGRAPH_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			MigrateCommand(),
			ConversationCommand(),
			ConfigCommand(),
		},
	}
}

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
