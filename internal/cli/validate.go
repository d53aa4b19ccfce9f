package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/shapeq/internal/clause"
	"github.com/roach88/shapeq/internal/options"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Type string
}

// QuerySummary describes a bound query.
type QuerySummary struct {
	Type    string   `json:"type"`
	Select  []string `json:"select,omitempty"`
	Expand  []string `json:"expand,omitempty"`
	Filter  string   `json:"filter,omitempty"`
	OrderBy []string `json:"orderby,omitempty"`
	Skip    *int     `json:"skip,omitempty"`
	Top     *int     `json:"top,omitempty"`
	Count   bool     `json:"count"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <query-string>",
		Short: "Validate a query string without running it",
		Long: `Parse and bind every parameter of a query string against a registered
type, reporting all rejected parameters at once.

Example:
  shapeq validate '$filter=id le 5&$orderby=firstName desc'
  shapeq validate --type Blog '$expand=posts($top=2)'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "User", "type the query applies to")

	return cmd
}

func runValidate(opts *ValidateOptions, query string, cmd *cobra.Command) error {
	e, err := newEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	itemType, err := e.itemType(opts.Type)
	if err != nil {
		return err
	}
	o, err := e.parseQuery(query, itemType)
	if err != nil {
		return err
	}

	summary := summarize(opts.Type, o)
	if e.formatter.Format == "json" {
		return e.formatter.Success(summary)
	}

	w := e.formatter.Writer
	fmt.Fprintln(w, "✓ Query valid")
	fmt.Fprintf(w, "  type:    %s\n", summary.Type)
	if len(summary.Select) > 0 {
		fmt.Fprintf(w, "  select:  %s\n", strings.Join(summary.Select, ", "))
	}
	if len(summary.Expand) > 0 {
		fmt.Fprintf(w, "  expand:  %s\n", strings.Join(summary.Expand, ", "))
	}
	if summary.Filter != "" {
		fmt.Fprintf(w, "  filter:  %s\n", summary.Filter)
	}
	if len(summary.OrderBy) > 0 {
		fmt.Fprintf(w, "  orderby: %s\n", strings.Join(summary.OrderBy, ", "))
	}
	if summary.Skip != nil {
		fmt.Fprintf(w, "  skip:    %d\n", *summary.Skip)
	}
	if summary.Top != nil {
		fmt.Fprintf(w, "  top:     %d\n", *summary.Top)
	}
	if summary.Count {
		fmt.Fprintln(w, "  count:   true")
	}
	return nil
}

func summarize(typeName string, o *options.QueryOptions) QuerySummary {
	s := QuerySummary{Type: typeName, Count: o.Count()}
	if sel := o.Select(); sel != nil {
		s.Select = selectPaths("", sel)
	}
	if exp := o.Expand(); exp != nil {
		for _, c := range exp.Children() {
			s.Expand = append(s.Expand, c.Member().JSONName)
		}
	}
	if f := o.Filter(); f != nil {
		s.Filter = f.String()
	}
	for _, k := range o.OrderBy() {
		s.OrderBy = append(s.OrderBy, k.String())
	}
	if n, ok := o.Skip(); ok {
		s.Skip = &n
	}
	if n, ok := o.Top(); ok {
		s.Top = &n
	}
	return s
}

// selectPaths flattens a select tree to member paths.
func selectPaths(prefix string, sel *clause.SelectClause) []string {
	var out []string
	if sel.IsStar() {
		out = append(out, prefix+"*")
	}
	for _, c := range sel.Children() {
		path := prefix + c.Member().JSONName
		if len(c.Children()) == 0 {
			out = append(out, path)
			continue
		}
		out = append(out, selectPaths(path+"/", c)...)
	}
	return out
}
