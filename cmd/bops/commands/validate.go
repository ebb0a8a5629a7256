package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metasys/bops/pkg/config"
	"github.com/metasys/bops/pkg/engine"
)

type validateResult struct {
	Files      []string                 `json:"files"`
	Errors     []config.ValidationError `json:"errors,omitempty"`
	Operations []operationSummary       `json:"operations,omitempty"`
	Valid      bool                     `json:"valid"`
	CheckError string                   `json:"check_error,omitempty"`
}

type operationSummary struct {
	Name      string `json:"name"`
	Nodes     int    `json:"nodes"`
	Paths     int    `json:"paths"`
	DeadNodes []int  `json:"dead_nodes,omitempty"`
}

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate operation configuration",
		Long: `Validate operation configuration files.

This command checks:
  - JSON, YAML and CUE syntax
  - Schema conformance of operations and systems
  - Node graphs: unique keys, one output node, no cycles
  - Dependencies: functions installed, nested operations present
  - Policy compliance (OPA/rego), when policies are enabled`,
		Example: `  # Validate the configured operations path
  bops validate

  # Validate a directory of operation files
  bops validate ./operations

  # Machine-readable report
  bops validate --json system.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			sources, err := a.sources(args)
			if err != nil {
				return err
			}

			a.logger.WithField("sources", sources).Info("Validating configuration")

			parsed, err := a.loader().Parse(ctx, sources...)
			if err != nil {
				return err
			}

			result := validateResult{Files: parsed.SourceFiles, Errors: parsed.Errors}
			if !parsed.HasErrors() {
				e, err := a.newEngine(ctx, &parsed.System)
				if err != nil {
					return err
				}
				reports, err := e.Check(ctx, parsed.System.Operations...)
				if err != nil {
					result.CheckError = err.Error()
				}
				result.Operations = summarize(parsed.System.Operations, reports)
				result.Valid = err == nil
			}

			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				printValidation(cmd, result)
			}

			if !result.Valid {
				return fmt.Errorf("configuration is invalid")
			}
			return nil
		},
	}

	return cmd
}

func summarize(ops []engine.Operation, reports []*engine.ValidationReport) []operationSummary {
	nodes := make(map[string]int, len(ops))
	for _, op := range ops {
		nodes[op.Name] = len(op.Nodes)
	}

	summaries := make([]operationSummary, 0, len(reports))
	for _, r := range reports {
		if r == nil {
			continue
		}
		summaries = append(summaries, operationSummary{
			Name:      r.Operation,
			Nodes:     nodes[r.Operation],
			Paths:     r.PathCount,
			DeadNodes: r.DeadNodes,
		})
	}
	return summaries
}

func printValidation(cmd *cobra.Command, result validateResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checked %d file(s)\n", len(result.Files))

	for _, e := range result.Errors {
		style := warningStyle
		if e.Severity == config.SeverityError {
			style = errorStyle
		}
		fmt.Fprintf(out, "  %s %s\n", style.Render("["+e.Severity+"]"), e.Error())
	}
	for _, op := range result.Operations {
		fmt.Fprintf(out, "  %s: %d nodes, %d execution paths", op.Name, op.Nodes, op.Paths)
		if len(op.DeadNodes) > 0 {
			fmt.Fprint(out, warningStyle.Render(fmt.Sprintf(", dead nodes %v", op.DeadNodes)))
		}
		fmt.Fprintln(out)
	}
	if result.CheckError != "" {
		fmt.Fprintf(out, "  %s %s\n", errorStyle.Render("error:"), result.CheckError)
	}

	if result.Valid {
		fmt.Fprintln(out, successStyle.Render("Configuration is valid"))
	}
}
