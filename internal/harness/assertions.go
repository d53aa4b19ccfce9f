package harness

import (
	"bytes"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/shapeq/internal/sample"
)

// AssertionError is returned when a case does not meet an expectation.
type AssertionError struct {
	Case     string
	Backend  string // empty when the check spans backends
	Check    string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "case %q", e.Case)
	if e.Backend != "" {
		fmt.Fprintf(&buf, " [%s]", e.Backend)
	}
	fmt.Fprintf(&buf, ": %s\n", e.Check)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// check evaluates the expectations of cr. earlier holds the results of
// the cases run before it.
func (h *Harness) check(cr *CaseResult, earlier map[string]*CaseResult) []error {
	c := cr.Case
	var errs []error

	if err := assertBackendsAgree(cr); err != nil {
		errs = append(errs, err)
	}

	for _, out := range cr.Outcomes {
		fail := func(check, expected, actual string) {
			errs = append(errs, &AssertionError{
				Case: c.Name, Backend: out.Backend, Check: check, Expected: expected, Actual: actual,
			})
		}

		if c.Expect.Error != "" || out.ErrorCode != "" {
			if out.ErrorCode != c.Expect.Error {
				fail("error", orNone(c.Expect.Error), orNone(out.ErrorCode))
			}
			continue
		}

		if c.Expect.IDs != nil {
			if got := userIDs(out.Users); !slices.Equal(got, c.Expect.IDs) {
				fail("ids", fmt.Sprint(c.Expect.IDs), fmt.Sprint(got))
			}
		}
		if c.Expect.Count != nil {
			switch {
			case out.Count == nil:
				fail("count", fmt.Sprint(*c.Expect.Count), "no count")
			case *out.Count != *c.Expect.Count:
				fail("count", fmt.Sprint(*c.Expect.Count), fmt.Sprint(*out.Count))
			}
		}
		for _, name := range c.Expect.Nil {
			if i, err := h.findLoaded(out.Users, name, true); err != nil {
				fail("nil "+name, "unset", err.Error())
			} else if i >= 0 {
				fail("nil "+name, "unset on every item", fmt.Sprintf("set on item %d", i))
			}
		}
		for _, name := range c.Expect.NotNil {
			if i, err := h.findLoaded(out.Users, name, false); err != nil {
				fail("not_nil "+name, "set", err.Error())
			} else if i >= 0 {
				fail("not_nil "+name, "set on every item", fmt.Sprintf("unset on item %d", i))
			}
		}
		if c.Expect.Same != "" {
			other := earlier[c.Expect.Same]
			for _, o := range other.Outcomes {
				if o.Backend == out.Backend && !bytes.Equal(o.Envelope, out.Envelope) {
					fail("same as "+c.Expect.Same, string(o.Envelope), string(out.Envelope))
				}
			}
		}
	}
	return errs
}

// assertBackendsAgree checks that every backend wrote the same envelope
// and rejected the query the same way.
func assertBackendsAgree(cr *CaseResult) error {
	first := cr.Outcomes[0]
	for _, out := range cr.Outcomes[1:] {
		if out.ErrorCode != first.ErrorCode || !bytes.Equal(out.Envelope, first.Envelope) {
			return &AssertionError{
				Case:     cr.Case.Name,
				Check:    "backends agree",
				Expected: fmt.Sprintf("%s: %s%s", first.Backend, first.Envelope, first.ErrorCode),
				Actual:   fmt.Sprintf("%s: %s%s", out.Backend, out.Envelope, out.ErrorCode),
			}
		}
	}
	return nil
}

// findLoaded returns the index of the first item whose property name is
// set (wantNil) or unset (!wantNil), or -1 when every item conforms.
func (h *Harness) findLoaded(users []*sample.User, name string, wantNil bool) (int, error) {
	desc, err := h.registry.Describe(userType)
	if err != nil {
		return 0, err
	}
	prop, ok := desc.Property(name)
	if !ok {
		return 0, fmt.Errorf("User has no property %q", name)
	}
	for i, u := range users {
		v := prop.Get(reflect.ValueOf(u).Elem())
		if isNil(v) != wantNil {
			return i, nil
		}
	}
	return -1, nil
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return v.IsNil()
	}
	return !v.IsValid()
}

func userIDs(users []*sample.User) []int32 {
	out := make([]int32, len(users))
	for i, u := range users {
		out[i] = u.ID
	}
	return out
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
