package main

import (
	"fmt"
	"os"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "extract":
		if err := runExtract(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "batch":
		if err := runBatch(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "config":
		if err := runConfig(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "mcp":
		if err := runMCP(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Printf("chartex %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`chartex %s — Deterministic clinical note extraction

Usage:
  chartex <command> [arguments]

Commands:
  extract <file>...   Extract structured fields from one or more notes
  batch <path>...     Process notes together: cross-note dedup + merged timeline
  config              Print the resolved configuration with provenance
  mcp                 Serve the extraction tools over MCP stdio
  version             Print version

Extract/Batch Flags:
  --config <path>         Config file (default: ~/.chartex/config.yaml)
  --threshold <f>         Similarity threshold for dedup, in (0,1]
  --corrections <path>    Confirmed-corrections SQLite database
  --onnx-model <path>     Local ONNX embedding model
  --onnx-tokenizer <path> Tokenizer file for the ONNX model
  --merge-complementary   Merge complementary near-duplicate notes (batch)
  --json                  Emit raw JSON instead of the text report

Flags:
  -h, --help          Show this help message
  -v, --version       Print version
`, version)
}
