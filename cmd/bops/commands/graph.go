package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/metasys/bops/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	var (
		output string
		files  []string
	)

	cmd := &cobra.Command{
		Use:   "graph <operation>",
		Short: "Export an operation's node graph as DOT",
		Long: `Export the node graph of a loaded operation in Graphviz DOT format.

Live nodes are colored by function kind, dead nodes are gray. Edge styles
show the dependency mode.`,
		Example: `  # Print the graph
  bops graph package-bop

  # Render with Graphviz
  bops graph package-bop -o package-bop.dot && dot -Tsvg package-bop.dot > package-bop.svg`,
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

			op, report, ok := e.Operation(name)
			if !ok {
				return fmt.Errorf("operation %q is not loaded", name)
			}
			dot := engine.ToDOT(op, report)

			if output == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), dot)
				return err
			}
			if err := os.WriteFile(output, []byte(dot), 0o644); err != nil {
				return fmt.Errorf("failed to write graph: %w", err)
			}
			a.logger.WithField("path", output).Info("Graph written")
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "configuration files or directories (default: engine.operations_path)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the graph to a file")

	return cmd
}
