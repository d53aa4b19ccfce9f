// Package config loads shapeq settings from CUE.
//
// A settings file is a CUE struct validated against an embedded schema:
//
//	max_top:          100
//	default_top:      20
//	max_expand_depth: 3
//	allow_count:      false
//
// Unknown fields are errors. Every field is optional.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/shapeq/internal/options"
)

//go:embed schema.cue
var schemaSource string

// Settings bound the queries a caller may run.
type Settings struct {
	MaxTop          int  `json:"max_top"`
	DefaultTop      int  `json:"default_top"`
	MaxExpandDepth  int  `json:"max_expand_depth"`
	MaxFilterLength int  `json:"max_filter_length"`
	AllowCount      bool `json:"allow_count"`
}

// Default returns the settings used without a settings file: no limits,
// counting allowed.
func Default() Settings {
	return Settings{AllowCount: true}
}

// Limits converts the settings to option binding limits.
func (s Settings) Limits() options.Limits {
	return options.Limits{
		MaxTop:          s.MaxTop,
		DefaultTop:      s.DefaultTop,
		MaxExpandDepth:  s.MaxExpandDepth,
		MaxFilterLength: s.MaxFilterLength,
		DisableCount:    !s.AllowCount,
	}
}

// Error is a settings error, positioned when CUE reported a position.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadFile reads settings from a CUE file.
func LoadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	return Parse(data, path)
}

// Parse reads settings from CUE source. filename is used in error
// positions.
func Parse(src []byte, filename string) (Settings, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Settings{}, fmt.Errorf("compile settings schema: %w", err)
	}

	file := ctx.CompileBytes(src, cue.Filename(filename))
	if err := file.Err(); err != nil {
		return Settings{}, formatCUEError(err)
	}
	v := schema.LookupPath(cue.ParsePath("#Settings")).Unify(file)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Settings{}, formatCUEError(err)
	}

	var s Settings
	if err := v.Decode(&s); err != nil {
		return Settings{}, formatCUEError(err)
	}
	if s.MaxTop > 0 && s.DefaultTop > s.MaxTop {
		return Settings{}, &Error{
			Field:   "default_top",
			Message: fmt.Sprintf("default_top %d exceeds max_top %d", s.DefaultTop, s.MaxTop),
			Pos:     v.LookupPath(cue.ParsePath("default_top")).Pos(),
		}
	}
	return s, nil
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	e := &Error{Field: "settings", Message: first.Error()}
	if path := first.Path(); len(path) > 0 {
		e.Field = path[len(path)-1]
	}
	if positions := errors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
