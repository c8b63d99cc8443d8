package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ammar0144/entity4go"
	"github.com/ammar0144/entity4go/pkg/entity"
	"github.com/ammar0144/entity4go/pkg/schema"
)

// tableEntity stands in for a domain type when only table names are known
type tableEntity struct {
	entity.Base
	name string
}

func (e *tableEntity) TypeName() string { return e.name }

// typeForTable names a type after its table: course_instructor becomes
// CourseInstructor
func typeForTable(table string) *entity.Type {
	name := entity.CamelCase(table)
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	return entity.NewType(name, func() entity.Entity { return &tableEntity{name: name} }).Table(table)
}

func newInspectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <table>",
		Short: "Show the columns and foreign keys of a table",
		Example: `  entity4go inspect course
  entity4go --driver sqlite --database school.db inspect module`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := entity4go.Open(c.cfg, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx := cmd.Context()
			table := args[0]
			meta := client.Schema()

			columns, err := meta.Columns(ctx, table)
			if err != nil {
				return err
			}
			if len(columns) == 0 {
				return fmt.Errorf("table %q not found", table)
			}
			outbound, err := meta.Outbound(ctx, table)
			if err != nil {
				return err
			}
			referencing, err := meta.ReferencingTables(ctx, table)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "TABLE\t%s\n\n", table)
			fmt.Fprintln(w, "COLUMN\tTYPE\tKIND")
			for _, col := range columns {
				fmt.Fprintf(w, "%s\t%s\t%s\n", col.Name, col.Type, schema.Classify(col.Type))
			}
			if len(outbound) > 0 {
				fmt.Fprintln(w, "\nREFERENCES")
				for _, fk := range outbound {
					fmt.Fprintf(w, "%s\t-> %s.%s\n", fk.Column, fk.ReferencedTable, fk.ReferencedColumn)
				}
			}
			if len(referencing) > 0 {
				fmt.Fprintf(w, "\nREFERENCED BY\t%s\n", strings.Join(referencing, ", "))
			}
			return w.Flush()
		},
	}
}

func newLinkCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "link <parentTable> <dependentTable>",
		Short: "Show how dependents of a table are reached",
		Long: `link resolves the relationship from the parent table to the dependent table
the same way dependent loads do: through a link table found by intersecting
foreign keys, or through a direct foreign key column.`,
		Example: `  entity4go link course instructor
  entity4go link course module`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := entity4go.NewRegistry()
			for _, table := range args {
				if _, ok := reg.ByTable(table); ok {
					continue
				}
				if err := reg.Register(typeForTable(table)); err != nil {
					return err
				}
			}
			parent, _ := reg.ByTable(args[0])
			dependent, _ := reg.ByTable(args[1])

			client, err := entity4go.Open(c.cfg, reg)
			if err != nil {
				return err
			}
			defer client.Close()

			rel, err := client.Resolver().Resolve(cmd.Context(), parent, dependent)
			var ambiguous *entity.AmbiguousLinkError
			if errors.As(err, &ambiguous) {
				return printAmbiguous(cmd.OutOrStdout(), ambiguous)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rel.IsLink() {
				fmt.Fprintf(out, "link table %s: %s.%s = %s.id, %s.%s = %s.id\n",
					rel.Link.Table,
					rel.Link.Table, rel.Link.ParentColumn, args[0],
					rel.Link.Table, rel.Link.DependentColumn, args[1])
				return nil
			}
			fmt.Fprintf(out, "direct: %s.%s = %s.id\n", args[1], rel.ForeignKey, args[0])
			return nil
		},
	}
}

func printAmbiguous(w io.Writer, err *entity.AmbiguousLinkError) error {
	fmt.Fprintf(w, "ambiguous: %s\n", strings.Join(err.Candidates, ", "))
	return err
}

func newFlushCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "flush-metadata",
		Short: "Drop cached metadata of the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := entity4go.Open(c.cfg, nil)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.FlushMetadata(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "metadata flushed (%s)\n", client.Schema().Fingerprint())
			return nil
		},
	}
}
