package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/wolfeidau/random-file/catalog"
)

// maxImportLine bounds a single JSON line in an import file.
const maxImportLine = 1 << 20

// ImportCmd loads catalog keys into a bolt catalog.
type ImportCmd struct {
	Source      string `arg:"" help:"JSON lines file of {\"name\":...,\"metadata\":{...}} records, or - for stdin."`
	CatalogPath string `help:"Path of the bolt catalog." default:"./catalog.db" env:"CATALOG_PATH"`
}

// Run imports every record in Source.
func (c *ImportCmd) Run(ctx context.Context, logger *slog.Logger) error {
	var in io.Reader = os.Stdin
	if c.Source != "-" {
		f, err := os.Open(c.Source)
		if err != nil {
			return fmt.Errorf("opening import file: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	db, err := catalog.OpenBolt(c.CatalogPath, catalog.WithBoltLogger(logger.With("component", "catalog")))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	n, err := importKeys(ctx, db, in)
	if err != nil {
		return err
	}
	logger.Info("imported catalog keys", "count", n, "path", c.CatalogPath)
	return nil
}

// keyWriter is the subset of catalog.Bolt used by importKeys.
type keyWriter interface {
	Put(ctx context.Context, name string, meta *catalog.Metadata) error
}

func importKeys(ctx context.Context, w keyWriter, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)

	count, lineNo := 0, 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var key catalog.Key
		if err := json.Unmarshal([]byte(line), &key); err != nil {
			return count, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := w.Put(ctx, key.Name, key.Metadata); err != nil {
			return count, fmt.Errorf("line %d: %w", lineNo, err)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("reading import file: %w", err)
	}
	return count, nil
}
