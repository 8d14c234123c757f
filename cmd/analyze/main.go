// Harrier - Money-mule network detection for transaction batches.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command analyze runs the detection engine against a transaction CSV
// and writes the analysis report as JSON. It runs fully offline with no
// server, database, or event bus.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/engine"
	"github.com/opensource-finance/harrier/internal/ingest"
)

func main() {
	var (
		input  = flag.String("input", "", "path to the transaction CSV file (required)")
		output = flag.String("output", "", "path to write the JSON report (default stdout)")
		pretty = flag.Bool("pretty", false, "indent the JSON output")
	)
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "analyze: -input is required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*input, *output, *pretty); err != nil {
		fmt.Fprintf(os.Stderr, "analyze: %v\n", err)
		os.Exit(1)
	}
}

func run(input, output string, pretty bool) error {
	txs, err := ingest.ReadFile(input)
	if err != nil {
		return err
	}

	analyzer := engine.New(domain.DefaultThresholds())
	report, _, err := analyzer.Analyze(context.Background(), txs)
	if err != nil {
		return fmt.Errorf("analyze batch: %w", err)
	}

	out := os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
