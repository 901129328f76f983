package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "alarmclock: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "alarmclock"
	app.HelpName = "alarmclock"
	app.Usage = "alarm and timer daemon with a Telegram front-end"
	app.UsageText = "alarmclock [--config file] <command> [arguments...]"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "path to the YAML config file",
			EnvVar: "CONFIG_PATH",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "restore alarms, then serve the bot, dispatcher and timers until interrupted",
			Action: runDaemon,
		},
		{
			Name:   "restore",
			Usage:  "run one restoration pass and print the triggers it would register",
			Action: restoreOnce,
		},
		{
			Name:  "export",
			Usage: "write enabled alarms as an iCalendar file",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "output, o",
					Usage: "destination file (default: stdout)",
				},
			},
			Action: exportAlarms,
		},
		{
			Name:  "env",
			Usage: "list supported environment variables",
			Action: func(*cli.Context) error {
				fmt.Println(configUsage())
				return nil
			},
		},
	}
	return app
}
