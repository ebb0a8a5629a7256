package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/metasys/bops/pkg/engine"
)

func newRunCommand() *cobra.Command {
	var (
		input      string
		inputsFile string
		parallel   int
		timeout    time.Duration
		failFast   bool
		files      []string
	)

	cmd := &cobra.Command{
		Use:   "run <operation>",
		Short: "Stitch and invoke an operation",
		Long: `Stitch an operation into an executable and invoke it.

The input is a JSON object. With --inputs the operation runs once per object
in a JSON lines file, with up to --parallel invocations at a time, and one
result per line is printed in input order.`,
		Example: `  # Run with one input
  bops run package-bop --input '{"age": 21}'

  # Run against another configuration
  bops run package-bop -f ./operations --input '{"age": 21}'

  # Batch run
  bops run package-bop --inputs ages.jsonl --parallel 8

  # Tighter deadline
  bops run slow-bop --timeout 500ms`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			sources, err := a.sources(files)
			if err != nil {
				return err
			}
			e, _, err := a.loadEngine(ctx, sources)
			if err != nil {
				return err
			}

			var stitchOpts []engine.StitchOption
			if timeout > 0 {
				stitchOpts = append(stitchOpts, engine.Timeout(timeout))
			}
			exec, err := e.Stitch(ctx, name, stitchOpts...)
			if err != nil {
				return err
			}

			a.logger.WithOperation(name).Debug("Operation stitched")

			if inputsFile != "" {
				inputs, err := readInputs(inputsFile)
				if err != nil {
					return err
				}
				if parallel <= 0 {
					parallel = a.settings.Engine.MaxParallel
				}

				results, runErr := engine.NewBatchRunner(exec, parallel).Run(ctx, inputs, engine.BatchOptions{FailFast: failFast})
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, r := range results {
					if err := enc.Encode(r); err != nil {
						return err
					}
				}
				return runErr
			}

			in := map[string]any{}
			if input != "" {
				if err := json.Unmarshal([]byte(input), &in); err != nil {
					return fmt.Errorf("invalid --input: %w", err)
				}
			}

			out, err := exec(ctx, in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "configuration files or directories (default: engine.operations_path)")
	cmd.Flags().StringVarP(&input, "input", "i", "", "input object as JSON")
	cmd.Flags().StringVar(&inputsFile, "inputs", "", "JSON lines file with one input object per line")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "concurrent invocations for --inputs (default: engine.max_parallel)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "invocation deadline (default: engine.default_ttl)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop a batch after the first failure")

	return cmd
}

// readInputs decodes a stream of JSON objects, one per line.
func readInputs(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open inputs: %w", err)
	}
	defer f.Close()

	var inputs []map[string]any
	dec := json.NewDecoder(f)
	for {
		var in map[string]any
		err := dec.Decode(&in)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid input %d in %s: %w", len(inputs)+1, path, err)
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}
