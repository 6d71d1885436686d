package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/nicktill/tinysummary/pkg/httpx"
	"github.com/nicktill/tinysummary/pkg/ingest"
	"github.com/nicktill/tinysummary/pkg/period"
)

// parseKey reads PRODUCT [YEAR [MONTH [DAY]]]
func parseKey(args []string) (period.Key, error) {
	if len(args) == 0 || len(args) > 4 {
		return period.Key{}, fmt.Errorf("expected PRODUCT [YEAR [MONTH [DAY]]]")
	}

	key := period.Key{Product: args[0]}
	if key.Product == httpx.AllProducts {
		key.Product = ""
	}

	parts := []*int{&key.Year, &key.Month, &key.Day}
	for i, s := range args[1:] {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			return period.Key{}, fmt.Errorf("%w: bad component %q", period.ErrInvalidKey, s)
		}
		*parts[i] = v
	}

	if err := key.Validate(); err != nil {
		return period.Key{}, err
	}
	return key, nil
}

// readDatasets decodes a stream of dataset objects and hands each to add.
// It returns the number handed over.
func readDatasets(r io.Reader, add func(ingest.DatasetPayload) error) (int, error) {
	dec := json.NewDecoder(r)

	n := 0
	for {
		var p ingest.DatasetPayload
		err := dec.Decode(&p)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("dataset %d: %w", n+1, err)
		}
		if err := add(p); err != nil {
			return n, fmt.Errorf("dataset %d: %w", n+1, err)
		}
		n++
	}
}

func printJSON(w io.Writer, message interface{}) error {
	b, err := json.MarshalIndent(message, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s\n", b)
	return nil
}
