package main

import (
	"log"
	"os"
	"sort"
	"time"

	"github.com/urfave/cli"
)

var version = "dev"

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version, V",
		Usage: "print version",
	}

	app := cli.NewApp()
	app.Name = "cloud-persistent-storage"
	app.Usage = "attach a tagged EBS volume to this instance and mount it"
	app.Version = version
	app.Compiled = time.Now()

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "Load configuration from `FILE`",
			Value:  "/etc/cloud-persistent-storage/config.yaml",
			EnvVar: "CPS_CONFIG",
		},
		cli.StringFlag{
			Name:  "env-file",
			Usage: "Load environment overrides from `FILE` before reading the configuration",
		},
		cli.BoolFlag{
			Name:  "verbose, debug, v",
			Usage: "Enable debug logging",
		},
	}

	app.Commands = []cli.Command{attachCommand, checkConfigCommand}
	sort.Sort(cli.CommandsByName(app.Commands))
	return app
}
