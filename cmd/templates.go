package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/boxbridge/config"
	"github.com/otherjamesbrown/boxbridge/pkg/box"
)

// templateRow is the printable form of a template list entry.
type templateRow struct {
	TemplateKey string `json:"template_key" yaml:"template_key"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Scope       string `json:"scope" yaml:"scope"`
	Hidden      bool   `json:"hidden" yaml:"hidden"`
	Fields      *int   `json:"fields,omitempty" yaml:"fields,omitempty"`
}

type fieldRow struct {
	Key         string `json:"key" yaml:"key"`
	Type        string `json:"type" yaml:"type"`
	DisplayName string `json:"display_name" yaml:"display_name"`
	Hidden      bool   `json:"hidden" yaml:"hidden"`
}

type schemaView struct {
	TemplateKey string     `json:"template_key" yaml:"template_key"`
	DisplayName string     `json:"display_name" yaml:"display_name"`
	Scope       string     `json:"scope" yaml:"scope"`
	Fields      []fieldRow `json:"fields" yaml:"fields"`
}

// NewTemplatesCommand creates the templates command group.
func NewTemplatesCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"template", "tpl"},
		Short:   "Inspect Box metadata templates",
		Long: `Inspect the metadata templates the pipeline selects from.

Only BOX_API_TOKEN is needed for these commands.`,
	}

	cmd.AddCommand(newTemplatesListCommand(deps))
	cmd.AddCommand(newTemplatesSchemaCommand(deps))

	return cmd
}

func newTemplatesListCommand(deps *Deps) *cobra.Command {
	var (
		scope string
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List metadata templates",
		Long: `List metadata templates in a scope.

With --all every template in every scope is listed with its schema field
count, the same listing serve logs at startup.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, client, err := boxFromDeps(deps)
			if err != nil {
				return err
			}
			if scope == "" {
				scope = cfg.Box.Scope
			}

			var rows []templateRow
			if all {
				schemas, err := client.ListAllTemplateSchemas(c.Context())
				if err != nil {
					return fmt.Errorf("listing template schemas: %w", err)
				}
				for _, s := range schemas {
					n := len(s.Fields)
					rows = append(rows, templateRow{
						TemplateKey: s.TemplateKey,
						DisplayName: s.DisplayName,
						Scope:       s.Scope,
						Fields:      &n,
					})
				}
			} else {
				templates, err := client.ListTemplates(c.Context(), scope)
				if err != nil {
					return fmt.Errorf("listing templates in %s: %w", scope, err)
				}
				for _, t := range templates {
					rows = append(rows, templateRow{
						TemplateKey: t.TemplateKey,
						DisplayName: t.DisplayName,
						Scope:       t.Scope,
						Hidden:      t.Hidden,
					})
				}
			}
			if rows == nil {
				rows = []templateRow{}
			}

			return WriteOutput(c.OutOrStdout(), cfg.Output, rows, func(w io.Writer) error {
				return printTemplateRows(w, rows)
			})
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Template scope (default box.scope)")
	cmd.Flags().BoolVar(&all, "all", false, "List every scope with field counts")

	return cmd
}

func newTemplatesSchemaCommand(deps *Deps) *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "schema <template-key>",
		Short: "Show the fields of a metadata template",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, client, err := boxFromDeps(deps)
			if err != nil {
				return err
			}
			if scope == "" {
				scope = cfg.Box.Scope
			}

			schema, err := client.GetTemplateSchema(c.Context(), scope, args[0])
			if err != nil {
				return fmt.Errorf("getting schema for %s: %w", args[0], err)
			}

			view := schemaView{
				TemplateKey: schema.TemplateKey,
				DisplayName: schema.DisplayName,
				Scope:       schema.Scope,
				Fields:      make([]fieldRow, 0, len(schema.Fields)),
			}
			for _, f := range schema.Fields {
				view.Fields = append(view.Fields, fieldRow{
					Key:         f.Key,
					Type:        f.Type,
					DisplayName: f.DisplayName,
					Hidden:      f.Hidden,
				})
			}

			return WriteOutput(c.OutOrStdout(), cfg.Output, view, func(w io.Writer) error {
				return printSchema(w, view)
			})
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Template scope (default box.scope)")

	return cmd
}

// boxFromDeps loads the config and builds a Box client, requiring only the
// Box token.
func boxFromDeps(deps *Deps) (*config.Config, *box.Client, error) {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateBox(); err != nil {
		return nil, nil, err
	}
	client, err := deps.NewBox(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating box client: %w", err)
	}
	return cfg, client, nil
}

func printTemplateRows(w io.Writer, rows []templateRow) error {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No templates found.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tSCOPE\tHIDDEN\tFIELDS")
	for _, r := range rows {
		fields := "-"
		if r.Fields != nil {
			fields = fmt.Sprintf("%d", *r.Fields)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", r.TemplateKey, r.DisplayName, r.Scope, r.Hidden, fields)
	}
	return tw.Flush()
}

func printSchema(w io.Writer, s schemaView) error {
	fmt.Fprintf(w, "Template: %s (%s)\n", s.TemplateKey, s.DisplayName)
	fmt.Fprintf(w, "Scope:    %s\n\n", s.Scope)
	if len(s.Fields) == 0 {
		fmt.Fprintln(w, "No fields.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTYPE\tNAME\tHIDDEN")
	for _, f := range s.Fields {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", f.Key, f.Type, f.DisplayName, f.Hidden)
	}
	return tw.Flush()
}
