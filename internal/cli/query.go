package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/shapeq/internal/codec"
	"github.com/roach88/shapeq/internal/pipeline"
	"github.com/roach88/shapeq/internal/queryable"
	"github.com/roach88/shapeq/internal/sample"
	"github.com/roach88/shapeq/internal/store"
)

// Query backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Fixture  string
	Backend  string
	Database string
	Metrics  bool
	NFC      bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <query-string>",
		Short: "Run a query against user fixtures",
		Long: `Run a query string against a users fixture and print the result page
as {"@count": n, "value": [...]}.

Without --fixture the built-in sample users are queried. The sqlite backend
loads the fixture into a SQLite database (a temporary one unless --db is
given) and evaluates filters and orderings in SQL where it can.

--metrics prints the query metrics in the Prometheus text format to stderr
after the result.

Example:
  shapeq query '$filter=score gt 90&$orderby=firstName&$select=id,firstName'
  shapeq query --backend sqlite --fixture users.yaml '$expand=blogs($top=1)&$count=true'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Fixture, "fixture", "", "YAML users fixture (default: built-in sample)")
	cmd.Flags().StringVar(&opts.Backend, "backend", BackendMemory, "query backend (memory|sqlite)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database path for the sqlite backend")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print query metrics to stderr")
	cmd.Flags().BoolVar(&opts.NFC, "nfc", true, "normalize written strings to Unicode NFC")

	return cmd
}

func runQuery(opts *QueryOptions, query string, cmd *cobra.Command) error {
	e, err := newEnv(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	f := e.formatter

	if opts.Backend != BackendMemory && opts.Backend != BackendSQLite {
		return f.Fail(ExitCommandError, ErrCodeInvalidOption,
			fmt.Sprintf("invalid backend %q: must be %s or %s", opts.Backend, BackendMemory, BackendSQLite), nil)
	}

	users := sample.Users()
	if opts.Fixture != "" {
		if _, err := os.Stat(opts.Fixture); err != nil {
			return f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("fixture not found: %s", opts.Fixture), err)
		}
		users, err = sample.LoadFixtureFile(opts.Fixture)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeFixture, "failed to load fixture", err)
		}
	}
	f.VerboseLog("Loaded %d user(s)", len(users))

	itemType := reflect.TypeOf(users).Elem()
	o, err := e.parseQuery(query, itemType)
	if err != nil {
		return err
	}

	var src queryable.Source = queryable.From(users)
	if opts.Backend == BackendSQLite {
		st, cleanup, err := openStore(e, opts.Database)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
		}
		defer cleanup()
		if src, err = loadStore(cmd, st, users); err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, "failed to load users into the database", err)
		}
		f.VerboseLog("Loaded users into SQLite")
	}

	applierOpts := []pipeline.Option{pipeline.WithLogger(e.logger)}
	if opts.NFC {
		applierOpts = append(applierOpts, pipeline.WithWriter(codec.NewWriter(e.registry, codec.WithNFC())))
	}
	var reg *prometheus.Registry
	if opts.Metrics {
		reg = prometheus.NewRegistry()
		applierOpts = append(applierOpts, pipeline.WithMetrics(pipeline.NewMetrics(reg)))
	}

	applier := pipeline.New(e.registry, applierOpts...)
	res, err := applier.Apply(cmd.Context(), src, o)
	if reg != nil {
		if err := dumpMetrics(cmd.ErrOrStderr(), reg); err != nil {
			e.logger.Error("failed to write metrics", "error", err)
		}
	}
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeExecution, "query failed", err)
	}

	var buf bytes.Buffer
	if err := applier.Write(&buf, res, o); err != nil {
		return f.Fail(ExitFailure, ErrCodeExecution, "failed to write result", err)
	}
	return f.Document(buf.Bytes())
}

// dumpMetrics writes every metric family gathered from reg in the
// Prometheus text format.
func dumpMetrics(w io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// openStore creates the database at path, or in a temporary directory
// when path is empty. cleanup closes it and removes temporary files.
func openStore(e *env, path string) (*store.Store, func(), error) {
	dir := ""
	if path == "" {
		var err error
		if dir, err = os.MkdirTemp("", "shapeq-"); err != nil {
			return nil, nil, err
		}
		path = filepath.Join(dir, "shapeq.db")
	} else if _, err := os.Stat(path); err == nil {
		return nil, nil, fmt.Errorf("database %s already exists", path)
	}

	st, err := store.Open(path, e.registry, store.WithLogger(e.logger))
	if err != nil {
		if dir != "" {
			os.RemoveAll(dir)
		}
		return nil, nil, err
	}
	cleanup := func() {
		if err := st.Close(); err != nil {
			e.logger.Error("error closing database", "error", err)
		}
		if dir != "" {
			os.RemoveAll(dir)
		}
	}
	return st, cleanup, nil
}

func loadStore(cmd *cobra.Command, st *store.Store, users []*sample.User) (queryable.Source, error) {
	ctx := cmd.Context()
	itemType := reflect.TypeOf(users).Elem()
	if err := st.Register(ctx, itemType); err != nil {
		return nil, err
	}
	if err := st.Insert(ctx, users); err != nil {
		return nil, err
	}
	return st.Source(itemType)
}
