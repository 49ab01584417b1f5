package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mkeane/chartex/internal/config"
	"github.com/mkeane/chartex/internal/mcp"
	"github.com/mkeane/chartex/internal/note"
	"github.com/mkeane/chartex/internal/pipeline"
)

// cliOptions are the flags shared by extract, batch, config, and mcp.
type cliOptions struct {
	configPath         string
	threshold          string
	corrections        string
	onnxModel          string
	onnxTokenizer      string
	jsonOut            bool
	mergeComplementary bool
}

// parseFlags splits args into options and positional arguments. Flags taking
// a value accept both "--flag value" and "--flag=value".
func parseFlags(args []string) (cliOptions, []string, error) {
	var opts cliOptions
	var positional []string

	take := func(i *int, name string) (string, error) {
		arg := args[*i]
		if eq := strings.IndexByte(arg, '='); eq >= 0 {
			return arg[eq+1:], nil
		}
		*i++
		if *i >= len(args) {
			return "", fmt.Errorf("flag %s needs a value", name)
		}
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name := arg
		if eq := strings.IndexByte(arg, '='); eq >= 0 {
			name = arg[:eq]
		}
		switch name {
		case "--config":
			v, err := take(&i, name)
			if err != nil {
				return opts, nil, err
			}
			opts.configPath = v
		case "--threshold":
			v, err := take(&i, name)
			if err != nil {
				return opts, nil, err
			}
			opts.threshold = v
		case "--corrections":
			v, err := take(&i, name)
			if err != nil {
				return opts, nil, err
			}
			opts.corrections = v
		case "--onnx-model":
			v, err := take(&i, name)
			if err != nil {
				return opts, nil, err
			}
			opts.onnxModel = v
		case "--onnx-tokenizer":
			v, err := take(&i, name)
			if err != nil {
				return opts, nil, err
			}
			opts.onnxTokenizer = v
		case "--json":
			opts.jsonOut = true
		case "--merge-complementary":
			opts.mergeComplementary = true
		default:
			if strings.HasPrefix(arg, "-") {
				return opts, nil, fmt.Errorf("unknown flag: %s", arg)
			}
			positional = append(positional, arg)
		}
	}
	return opts, positional, nil
}

func (o cliOptions) resolve() (config.ResolvedConfig, error) {
	return config.Resolve(config.ResolveOptions{
		ConfigPath:         o.configPath,
		CLIThreshold:       o.threshold,
		CLICorrectionsPath: o.corrections,
		CLIONNXModel:       o.onnxModel,
		CLIONNXTokenizer:   o.onnxTokenizer,
	})
}

func (o cliOptions) buildPipeline() (*pipeline.Pipeline, error) {
	resolved, err := o.resolve()
	if err != nil {
		return nil, err
	}
	settings, err := resolved.Settings()
	if err != nil {
		return nil, err
	}
	if o.mergeComplementary {
		settings.MergeComplementary = true
	}
	return pipeline.New(settings)
}

func runExtract(args []string, out io.Writer) error {
	opts, paths, err := parseFlags(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("usage: chartex extract <file>... [--json] [--config <path>]")
	}

	p, err := opts.buildPipeline()
	if err != nil {
		return err
	}

	ctx := context.Background()
	for i, path := range paths {
		text, err := readNote(path)
		if err != nil {
			return err
		}
		rec, err := p.Process(ctx, pipeline.Input{
			Note: note.RawNote{ID: noteID(path), Ordinal: i, Text: text},
		})
		if err != nil {
			return err
		}

		if opts.jsonOut {
			data, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			continue
		}
		fmt.Fprint(out, formatRecord(rec))
		if i < len(paths)-1 {
			fmt.Fprintln(out)
		}
	}
	return nil
}

func runBatch(args []string, out io.Writer) error {
	opts, paths, err := parseFlags(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("usage: chartex batch <file|dir>... [--merge-complementary] [--json]")
	}

	files, err := collectNoteFiles(paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no note files found under %s", strings.Join(paths, ", "))
	}

	p, err := opts.buildPipeline()
	if err != nil {
		return err
	}

	ins := make([]pipeline.Input, len(files))
	for i, f := range files {
		text, err := readNote(f)
		if err != nil {
			return err
		}
		ins[i] = pipeline.Input{Note: note.RawNote{ID: noteID(f), Ordinal: i, Text: text}}
	}

	batch, err := p.ProcessBatch(context.Background(), ins)
	if err != nil {
		return err
	}

	if opts.jsonOut {
		data, err := json.MarshalIndent(batch, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	fmt.Fprint(out, formatBatch(batch))
	return nil
}

func runConfig(args []string, out io.Writer) error {
	opts, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	resolved, err := opts.resolve()
	if err != nil {
		return err
	}
	if _, err := resolved.Settings(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(resolved, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func runMCP(args []string) error {
	opts, _, err := parseFlags(args)
	if err != nil {
		return err
	}
	p, err := opts.buildPipeline()
	if err != nil {
		return err
	}
	srv := mcp.NewServer(mcp.ServerConfig{Pipeline: p, Version: version})
	return server.ServeStdio(srv)
}

// readNote loads one note; "-" reads stdin.
func readNote(path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(b), nil
}

// collectNoteFiles expands directories into their .txt and .md files, sorted,
// and passes plain files through in argument order.
func collectNoteFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("reading dir %s: %w", path, err)
		}
		var inDir []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".txt", ".md":
				inDir = append(inDir, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(inDir)
		files = append(files, inDir...)
	}
	return files, nil
}

func noteID(path string) string {
	if path == "-" {
		return "stdin"
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
