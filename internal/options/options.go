// Package options binds wire query parameters to clauses.
//
// Parameters are accepted with or without the "$" prefix. Every parameter
// is parsed independently: a malformed $filter does not prevent $orderby
// from being parsed, and all failures are reported together as Errors.
package options

import (
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/shapeq/internal/clause"
)

// Parameter names, without the "$" prefix.
const (
	ParamSelect  = "select"
	ParamExpand  = "expand"
	ParamFilter  = "filter"
	ParamOrderBy = "orderby"
	ParamSkip    = "skip"
	ParamTop     = "top"
	ParamCount   = "count"
)

// Limits bounds what a request may ask for. Zero values disable the
// corresponding limit.
type Limits struct {
	// MaxTop is the largest accepted $top.
	MaxTop int
	// DefaultTop is applied when $top is absent.
	DefaultTop int
	// MaxExpandDepth is the deepest accepted $expand nesting.
	MaxExpandDepth int
	// MaxFilterLength is the longest accepted $filter text.
	MaxFilterLength int
	// DisableCount rejects $count=true.
	DisableCount bool
}

// QueryOptions holds every clause of one request for one element type.
// It is immutable once parsed.
type QueryOptions struct {
	itemType reflect.Type
	filter   *clause.FilterClause
	orderBy  []*clause.OrderByClause
	sel      *clause.SelectClause
	expand   *clause.ExpandClause
	skip     *int
	top      *int
	count    bool
}

// ItemType returns the element type the options apply to.
func (o *QueryOptions) ItemType() reflect.Type { return o.itemType }

// Filter returns the filter clause, or nil.
func (o *QueryOptions) Filter() *clause.FilterClause { return o.filter }

// OrderBy returns the sort keys in precedence order.
func (o *QueryOptions) OrderBy() []*clause.OrderByClause { return o.orderBy }

// Select returns the select tree root. It is never nil.
func (o *QueryOptions) Select() *clause.SelectClause { return o.sel }

// Expand returns the expand tree root. It is never nil.
func (o *QueryOptions) Expand() *clause.ExpandClause { return o.expand }

// Skip returns $skip, if given.
func (o *QueryOptions) Skip() (int, bool) {
	if o.skip == nil {
		return 0, false
	}
	return *o.skip, true
}

// Top returns $top (or the default page size), if set.
func (o *QueryOptions) Top() (int, bool) {
	if o.top == nil {
		return 0, false
	}
	return *o.top, true
}

// Count reports whether the total count was requested.
func (o *QueryOptions) Count() bool { return o.count }

// Shape returns the merged select/expand tree used for serialization.
func (o *QueryOptions) Shape() *clause.SelectClause {
	return clause.Shape(o.sel, o.expand)
}

// Parser binds query parameters to QueryOptions.
type Parser struct {
	clauses *clause.Parser
	limits  Limits
}

// NewParser creates a parameter binder.
func NewParser(clauses *clause.Parser, limits Limits) *Parser {
	return &Parser{clauses: clauses, limits: limits}
}

// ParseQuery parses a raw query string ("$filter=...&$top=3").
func (p *Parser) ParseQuery(raw string, itemType reflect.Type) (*QueryOptions, error) {
	values, err := splitQuery(strings.TrimPrefix(raw, "?"))
	if err != nil {
		return nil, Errors{{Param: "query", Code: ErrCodeInvalidParameter, Err: err}}
	}
	return p.Parse(values, itemType)
}

// splitQuery splits raw on '&' only. Semicolons separate expand branch
// options and stay inside the value.
func splitQuery(raw string) (url.Values, error) {
	values := make(url.Values)
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		k, err := url.QueryUnescape(key)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		values[k] = append(values[k], v)
	}
	return values, nil
}

// Parse binds values to options for itemType.
//
// Clauses are initialized in a fixed order: select and expand first, then
// filter, orderby, skip, top, count. Unknown parameters are ignored. When
// any parameter fails, the returned error is an Errors value listing all
// failures and the options are nil.
func (p *Parser) Parse(values url.Values, itemType reflect.Type) (*QueryOptions, error) {
	params := normalize(values)
	b := &binding{params: params}
	o := &QueryOptions{itemType: itemType}

	selBuilder := clause.NewSelectBuilder(itemType)
	for _, v := range params[ParamSelect] {
		b.record(ParamSelect, ErrCodeInvalidParameter, p.clauses.ParseSelect(v, selBuilder))
	}
	o.sel = selBuilder.Build()

	expBuilder := clause.NewExpandBuilder(itemType)
	for _, v := range params[ParamExpand] {
		b.record(ParamExpand, ErrCodeInvalidParameter, p.clauses.ParseExpand(v, expBuilder))
	}
	o.expand = expBuilder.Build()
	if limit := p.limits.MaxExpandDepth; limit > 0 && o.expand.Depth() > limit {
		b.record(ParamExpand, ErrCodeLimitExceeded,
			fmt.Errorf("expansion depth %d exceeds the maximum of %d", o.expand.Depth(), limit))
	}

	if v, ok := b.single(ParamFilter); ok {
		if limit := p.limits.MaxFilterLength; limit > 0 && len(v) > limit {
			b.record(ParamFilter, ErrCodeLimitExceeded,
				fmt.Errorf("filter is %d characters long, the maximum is %d", len(v), limit))
		} else {
			f, err := p.clauses.ParseFilter(v, itemType)
			b.record(ParamFilter, ErrCodeInvalidParameter, err)
			o.filter = f
		}
	}

	if v, ok := b.single(ParamOrderBy); ok {
		list, err := p.clauses.ParseOrderBy(v, itemType)
		b.record(ParamOrderBy, ErrCodeInvalidParameter, err)
		o.orderBy = list
	}

	if v, ok := b.single(ParamSkip); ok {
		o.skip = b.nonNegative(ParamSkip, v)
	}

	if v, ok := b.single(ParamTop); ok {
		o.top = b.nonNegative(ParamTop, v)
		if limit := p.limits.MaxTop; o.top != nil && limit > 0 && *o.top > limit {
			b.record(ParamTop, ErrCodeLimitExceeded, fmt.Errorf("top %d exceeds the maximum of %d", *o.top, limit))
		}
	} else if _, given := params[ParamTop]; !given && p.limits.DefaultTop > 0 {
		top := p.limits.DefaultTop
		o.top = &top
	}

	if v, ok := b.single(ParamCount); ok {
		count, err := strconv.ParseBool(v)
		switch {
		case err != nil:
			b.record(ParamCount, ErrCodeInvalidParameter, fmt.Errorf("expected true or false, got %q", v))
		case count && p.limits.DisableCount:
			b.record(ParamCount, ErrCodeLimitExceeded, fmt.Errorf("count is disabled"))
		default:
			o.count = count
		}
	}

	if len(b.errs) > 0 {
		slog.Debug("query options rejected", "item_type", itemType.String(), "errors", len(b.errs))
		return nil, b.errs
	}
	return o, nil
}

// normalize groups values by canonical parameter name.
func normalize(values url.Values) map[string][]string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	// "$filter" sorts before "filter"; keep a stable merge order.
	sort.Strings(keys)

	out := make(map[string][]string)
	for _, k := range keys {
		name := clause.OptionName(k)
		out[name] = append(out[name], values[k]...)
	}
	return out
}

type binding struct {
	params map[string][]string
	errs   Errors
}

func (b *binding) record(param string, code ErrorCode, err error) {
	if err != nil {
		b.errs = append(b.errs, &ParamError{Param: param, Code: code, Err: err})
	}
}

// single returns the value of a single-valued parameter. A repeated
// parameter is recorded as an error rather than resolved by position.
func (b *binding) single(param string) (string, bool) {
	vs := b.params[param]
	switch len(vs) {
	case 0:
		return "", false
	case 1:
		return vs[0], true
	}
	b.record(param, ErrCodeDuplicateParameter, fmt.Errorf("given %d times, expected at most once", len(vs)))
	return "", false
}

func (b *binding) nonNegative(param, v string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		b.record(param, ErrCodeInvalidParameter, fmt.Errorf("expected a non-negative integer, got %q", v))
		return nil
	}
	return &n
}
