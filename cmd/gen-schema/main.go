// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema generates the credpolicy config JSON Schema file.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/credpolicy/internal/config"
)

func main() {
	outPath := pflag.StringP("out", "o", filepath.Join("schemas", "credpolicy.schema.json"), "output file")
	pflag.Parse()

	if err := run(*outPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated %s\n", *outPath)
}

func run(outPath string) error {
	schema, err := config.GenerateSchema()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return oops.Code("SCHEMA_WRITE_FAILED").With("path", outPath).Wrap(err)
	}
	if err := os.WriteFile(outPath, append(schema, '\n'), 0o600); err != nil {
		return oops.Code("SCHEMA_WRITE_FAILED").With("path", outPath).Wrap(err)
	}
	return nil
}
