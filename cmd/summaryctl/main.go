package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/nicktill/tinysummary/pkg/api"
	"github.com/nicktill/tinysummary/pkg/ingest"
	"github.com/nicktill/tinysummary/pkg/logging"
	"github.com/nicktill/tinysummary/pkg/sdk"
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "dev"

type metadata struct {
	server string
	apiKey string
	w      io.Writer
}

func (m *metadata) newClient(batchSize int, onError func(error, []ingest.DatasetPayload)) (*sdk.Client, error) {
	return sdk.New(sdk.ClientConfig{
		BaseURL:      m.server,
		APIKey:       m.apiKey,
		FlushEvery:   time.Second,
		MaxBatchSize: batchSize,
		OnError:      onError,
	})
}

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "summaryctl: %s\n", err)
		os.Exit(1)
	}
}

func newApp(w, e io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "summaryctl"
	app.Usage = "load datasets into a summary server and read its overviews"
	app.Version = version

	app.Writer = w
	app.ErrWriter = e

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "server, s",
			Value:  "http://localhost:8080",
			Usage:  " summary server `URL`",
			EnvVar: "SUMMARY_SERVER",
		},
		cli.StringFlag{
			Name:   "api-key, k",
			Usage:  " bearer `TOKEN` sent with every request",
			EnvVar: "SUMMARY_API_KEY",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: " log `LEVEL` [debug|info|warn|error]",
		},
	}

	keyUsage := "PRODUCT|_all [YEAR [MONTH [DAY]]]"
	app.Commands = []cli.Command{
		{
			Name:      "ingest",
			Usage:     "send newline-delimited JSON datasets from FILE (- for stdin)",
			ArgsUsage: "FILE",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "refresh, r",
					Usage: " refresh every ingested product afterwards",
				},
				cli.IntFlag{
					Name:  "batch-size, b",
					Value: 500,
					Usage: " datasets per request `COUNT`",
				},
			},
			Action: runIngest,
		},
		{
			Name:      "overview",
			Usage:     "print the overview of a period",
			ArgsUsage: keyUsage,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "mode, m",
					Value: api.ModeCompute,
					Usage: " `MODE` [cached|compute|refresh]",
				},
			},
			Action: runOverview,
		},
		{
			Name:      "footprints",
			Usage:     "print dataset footprints of a period as GeoJSON",
			ArgsUsage: keyUsage,
			Action:    runFootprints,
		},
		{
			Name:   "products",
			Usage:  "list products",
			Action: runProducts,
		},
		{
			Name:      "refresh",
			Usage:     "index new datasets of a product and recompute its overviews",
			ArgsUsage: "PRODUCT",
			Action:    runRefresh,
		},
	}

	app.Before = func(c *cli.Context) error {
		logging.Init(logging.Config{Level: c.GlobalString("log-level"), Format: "console", Output: e})

		c.App.Metadata = map[string]interface{}{
			"config": &metadata{
				server: c.GlobalString("server"),
				apiKey: c.GlobalString("api-key"),
				w:      c.App.Writer,
			},
		}
		return nil
	}

	return app
}
