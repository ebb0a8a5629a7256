package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/metasys/bops/pkg/engine"
	"github.com/metasys/bops/pkg/functions"
)

type functionListing struct {
	Kind        engine.Kind `json:"kind"`
	Package     string      `json:"package,omitempty"`
	Name        string      `json:"name"`
	Version     string      `json:"version,omitempty"`
	Description string      `json:"description,omitempty"`
	Inputs      []string    `json:"inputs,omitempty"`
	Path        string      `json:"path,omitempty"`
}

func newFunctionsCommand() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "functions",
		Short: "List installed functions",
		Long: `List the functions operations can reference.

  - internal: built-in functions, referenced with a '#' prefix
  - variable: variable functions, referenced with moduleType "variable"
  - external: packaged functions and Starlark scripts from
    engine.external_functions_path`,
		Example: `  # List everything
  bops functions

  # Only external functions, as JSON
  bops functions --kind external --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			listings, err := a.listFunctions()
			if err != nil {
				return err
			}
			if kind != "" {
				filtered := listings[:0]
				for _, l := range listings {
					if string(l.Kind) == kind {
						filtered = append(filtered, l)
					}
				}
				listings = filtered
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), listings)
			}

			out := cmd.OutOrStdout()
			widths := []int{10, 34, 10}
			fmt.Fprintln(out, headerStyle.Render(row(widths, "KIND", "FUNCTION", "VERSION", "DESCRIPTION")))
			fmt.Fprintln(out, rule(append(widths, 40)))
			for _, l := range listings {
				name := l.Name
				if l.Package != "" {
					name = l.Package + "/" + l.Name
				}
				description := l.Description
				if description == "" {
					description = mutedStyle.Render(l.Path)
				}
				fmt.Fprintln(out, row(widths, string(l.Kind), name, l.Version, description))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "only list functions of this kind (internal, variable, external)")

	return cmd
}

func (a *app) listFunctions() ([]functionListing, error) {
	catalog := a.catalog()

	var listings []functionListing
	add := func(kind engine.Kind, pkg string, infos []functions.Info) {
		for _, info := range infos {
			inputs := make([]string, 0, len(info.Inputs))
			for name := range info.Inputs {
				inputs = append(inputs, name)
			}
			sort.Strings(inputs)
			listings = append(listings, functionListing{
				Kind:        kind,
				Package:     pkg,
				Name:        info.Name,
				Version:     info.Version,
				Description: info.Description,
				Inputs:      inputs,
			})
		}
	}

	add(engine.KindInternal, "", catalog.Internal.Infos())
	add(engine.KindVariable, "", catalog.Variables.Infos())
	for _, name := range catalog.Packages.Names() {
		if lib, ok := catalog.Packages.Package(name); ok {
			add(engine.KindExternal, name, lib.Infos())
		}
	}

	if src := a.externalSource(); src != nil {
		entries, err := src.Functions()
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			listings = append(listings, functionListing{
				Kind:    engine.KindExternal,
				Package: strings.ReplaceAll(e.Package, "\\", "/"),
				Name:    e.Name,
				Version: e.Version,
				Path:    e.Path,
			})
		}
	}

	return listings, nil
}
