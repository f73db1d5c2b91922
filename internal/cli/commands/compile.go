package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/identi-digital/identi-modules-sub000/internal/cli/ui"
	"github.com/identi-digital/identi-modules-sub000/internal/form/compiler"
	"github.com/identi-digital/identi-modules-sub000/internal/form/service"
)

// overridesFile is the document read by compile --overrides
type overridesFile struct {
	Overrides []compiler.FieldOverride           `json:"overrides"`
	EntityMap map[string]compiler.EntityOverride `json:"entityMap"`
}

func newCompileCommand(opts *options) *cobra.Command {
	var (
		mode          string
		force         bool
		overridesPath string
		asJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "compile FORM_ID ENTITY",
		Short: "Compile the schema of a form against an entity",
		Long: `Compile the schema of a form against an entity.

A new schema version is stored only when the entity's attributes changed
since the latest version, or when --force is given.`,
		Example: `  formctl compile harvest-intake farmers
  formctl compile harvest-intake farmers --mode replace --overrides fields.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := service.CompileRequest{
				Request: compiler.Request{
					FormID: args[0],
					Entity: args[1],
					Mode:   compiler.Mode(mode),
				},
				Force: force,
			}
			if overridesPath != "" {
				doc, err := readOverrides(overridesPath)
				if err != nil {
					return err
				}
				req.Overrides = doc.Overrides
				req.EntityMap = doc.EntityMap
			}

			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			registry, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			catalogCache, closeCache := openCache(cmd.Context(), cfg, logger)
			defer closeCache() //nolint:errcheck

			resp, err := newService(db, registry, cfg, catalogCache, logger).CompileSchema(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printCompileResponse(cmd, resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", string(compiler.ModeMerge), "Compilation mode: merge or replace")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Store a new version even if the entity is unchanged")
	cmd.Flags().StringVarP(&overridesPath, "overrides", "o", "", "JSON file with overrides and entityMap")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full response as JSON")
	return cmd
}

func readOverrides(path string) (*overridesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides: %w", err)
	}
	var doc overridesFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse overrides %s: %w", path, err)
	}
	return &doc, nil
}

func printCompileResponse(cmd *cobra.Command, resp *service.CompileResponse) {
	out := cmd.OutOrStdout()
	s := resp.Schema

	table := ui.NewTable(out, color.NoColor, "ID", "Field", "Tool", "Next")
	for _, ins := range s.Instructions {
		table.AddRow(ins.ID, ins.Gather.Name, ins.Tool.Name, nextLabel(ins.Transitions))
	}
	table.Render()
	fmt.Fprintln(out)

	summary := ui.NewKeyValueTable(out, color.NoColor)
	summary.AddRow("Schema", s.ID)
	summary.AddRow("Form", s.FormID)
	summary.AddRow("Entity", s.EntityID)
	summary.AddRow("Version", strconv.Itoa(s.Version))
	summary.AddRow("Mode", string(s.Mode))
	summary.AddRow("Recompiled", strconv.FormatBool(resp.Recompiled))
	summary.AddRow("Signature", resp.Signature)
	summary.Render()

	if len(resp.Gaps) > 0 {
		warn := color.New(color.FgYellow)
		fmt.Fprintln(out)
		for _, gap := range resp.Gaps {
			warn.Fprintf(out, "! %s (%s): %s\n", gap.Name, gap.SemanticType, gap.Reason)
		}
	}
}

// nextLabel summarizes the transitions of an instruction
func nextLabel(transitions []compiler.Transition) string {
	if len(transitions) == 0 {
		return "end"
	}
	labels := make([]string, 0, len(transitions))
	for _, t := range transitions {
		if t.Kind == compiler.TransitionOption {
			labels = append(labels, t.Value+"→"+t.Next)
			continue
		}
		labels = append(labels, t.Next)
	}
	return strings.Join(labels, ", ")
}
