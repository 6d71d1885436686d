package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/urfave/cli"

	"github.com/nicktill/tinysummary/pkg/ingest"
	"github.com/nicktill/tinysummary/pkg/logging"
)

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runIngest(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)
	log := logging.Component("ingest")

	if len(c.Args()) != 1 {
		return fmt.Errorf("expected one FILE argument")
	}

	var in io.Reader = os.Stdin
	if name := c.Args().First(); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var (
		mu     sync.Mutex
		failed int
		cause  error
	)
	client, err := m.newClient(c.Int("batch-size"), func(err error, datasets []ingest.DatasetPayload) {
		mu.Lock()
		defer mu.Unlock()
		failed += len(datasets)
		cause = err
	})
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	if err := client.Start(ctx); err != nil {
		return err
	}

	products := map[string]int{}
	sent, readErr := readDatasets(in, func(p ingest.DatasetPayload) error {
		if err := client.Add(p); err != nil {
			return err
		}
		products[p.Product]++
		return nil
	})

	stopErr := client.Stop()
	if readErr != nil {
		return readErr
	}
	if stopErr != nil {
		return stopErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d datasets were not delivered: %w", failed, sent, cause)
	}

	names := make([]string, 0, len(products))
	for name := range products {
		names = append(names, name)
	}
	sort.Strings(names)

	log.Info().Int("datasets", sent).Strs("products", names).Msg("datasets delivered")

	if !c.Bool("refresh") {
		return nil
	}
	for _, name := range names {
		resp, err := client.Refresh(ctx, name)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", name, err)
		}
		log.Info().
			Str("product", name).
			Int("new_datasets", resp.NewDatasets).
			Int("datasets", resp.Overview.DatasetCount).
			Msg("product refreshed")
	}
	return nil
}

func runOverview(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)

	key, err := parseKey(c.Args())
	if err != nil {
		return err
	}
	client, err := m.newClient(0, nil)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	resp, err := client.Overview(ctx, key, c.String("mode"))
	if err != nil {
		return err
	}
	return printJSON(m.w, resp)
}

func runFootprints(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)

	key, err := parseKey(c.Args())
	if err != nil {
		return err
	}
	client, err := m.newClient(0, nil)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	fc, err := client.Footprints(ctx, key)
	if err != nil {
		return err
	}
	return printJSON(m.w, fc)
}

func runProducts(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)

	client, err := m.newClient(0, nil)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	resp, err := client.Products(ctx)
	if err != nil {
		return err
	}
	return printJSON(m.w, resp)
}

func runRefresh(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)

	if len(c.Args()) != 1 {
		return fmt.Errorf("expected one PRODUCT argument")
	}
	client, err := m.newClient(0, nil)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	resp, err := client.Refresh(ctx, c.Args().First())
	if err != nil {
		return err
	}
	return printJSON(m.w, resp)
}
