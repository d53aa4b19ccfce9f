package cli

import (
	"fmt"
	"log/slog"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/roach88/shapeq/internal/binder"
	"github.com/roach88/shapeq/internal/clause"
	"github.com/roach88/shapeq/internal/config"
	"github.com/roach88/shapeq/internal/meta"
	"github.com/roach88/shapeq/internal/options"
	"github.com/roach88/shapeq/internal/sample"
)

// env is what every command needs: output, logging, the sample type
// registry and the option binder configured from settings.
type env struct {
	formatter *OutputFormatter
	logger    *slog.Logger
	registry  *meta.Registry
	settings  config.Settings
	options   *options.Parser
}

// newEnv prepares a command environment. Errors have already been written
// to the formatter.
func newEnv(opts *RootOptions, cmd *cobra.Command) (*env, error) {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	settings := config.Default()
	if opts.Config != "" {
		s, err := config.LoadFile(opts.Config)
		if err != nil {
			return nil, formatter.Fail(ExitCommandError, ErrCodeSettings, "invalid settings file", err)
		}
		settings = s
		formatter.VerboseLog("Loaded settings from %s", opts.Config)
	}

	reg := sample.NewRegistry()
	return &env{
		formatter: formatter,
		logger:    logger,
		registry:  reg,
		settings:  settings,
		options:   options.NewParser(clause.NewParser(reg, binder.New(reg)), settings.Limits()),
	}, nil
}

// itemType resolves a registered type name to the pointer type items are
// held as.
func (e *env) itemType(name string) (reflect.Type, error) {
	desc, err := e.registry.Lookup(name)
	if err != nil {
		return nil, e.formatter.Fail(ExitFailure, ErrCodeUnknownType, fmt.Sprintf("unknown type %q", name), err)
	}
	return reflect.PointerTo(desc.Type), nil
}

// parseQuery binds a query string, reporting every rejected parameter.
func (e *env) parseQuery(query string, itemType reflect.Type) (*options.QueryOptions, error) {
	o, err := e.options.ParseQuery(query, itemType)
	if err != nil {
		return nil, e.formatter.Fail(ExitFailure, ErrCodeInvalidQuery, "query rejected", err)
	}
	return o, nil
}
