package store

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/shapeq/internal/meta"
	"github.com/roach88/shapeq/internal/querysql"
)

// column maps one property to a column. JSON columns hold the property
// value as written by the codec.
type column struct {
	prop     *meta.Property
	name     string
	affinity string
	json     bool
}

type table struct {
	desc    *meta.TypeDescriptor
	name    string
	columns []column
	byName  map[string]*column
}

func (s *Store) newTable(t reflect.Type) (*table, error) {
	desc, err := s.registry.Describe(t)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", t, err)
	}
	tbl := &table{
		desc:   desc,
		name:   desc.Name,
		byName: make(map[string]*column, len(desc.Properties)),
	}
	for _, p := range desc.Properties {
		c := column{prop: p, name: p.JSONName}
		if aff, ok := querysql.Affinity(p.Type); ok && !p.Navigation {
			c.affinity = aff
		} else {
			c.affinity, c.json = "TEXT", true
		}
		tbl.columns = append(tbl.columns, c)
	}
	for i := range tbl.columns {
		tbl.byName[tbl.columns[i].name] = &tbl.columns[i]
	}
	return tbl, nil
}

func (t *table) createSQL() string {
	defs := make([]string, len(t.columns))
	for i, c := range t.columns {
		defs[i] = querysql.QuoteIdent(c.name) + " " + c.affinity
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", querysql.QuoteIdent(t.name), strings.Join(defs, ", "))
}

func (t *table) insertSQL() string {
	names := make([]string, len(t.columns))
	marks := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = querysql.QuoteIdent(c.name)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		querysql.QuoteIdent(t.name), strings.Join(names, ", "), strings.Join(marks, ", "))
}

// layout describes the columns for the catalog, e.g. "id INTEGER, address JSON".
func (t *table) layout() string {
	parts := make([]string, len(t.columns))
	for i, c := range t.columns {
		kind := c.affinity
		if c.json {
			kind = "JSON"
		}
		parts[i] = c.name + " " + kind
	}
	return strings.Join(parts, ", ")
}

// resolve maps a property name to its scalar column. JSON columns have no
// SQL-comparable value and do not resolve.
func (t *table) resolve(name string) (string, bool) {
	c, ok := t.byName[name]
	if !ok || c.json {
		return "", false
	}
	return c.name, true
}
