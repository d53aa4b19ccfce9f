// Package sample provides a demo model (users, blogs, posts and
// polymorphic pets) and YAML fixtures for it.
package sample

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/shapeq/internal/meta"
)

// Role is a set of user role flags.
type Role uint8

const (
	RoleReader Role = 1 << iota
	RoleWriter
	RoleAdmin
)

var roleNames = []struct {
	flag Role
	name string
}{
	{RoleReader, "Reader"},
	{RoleWriter, "Writer"},
	{RoleAdmin, "Admin"},
}

func (r Role) String() string {
	var names []string
	rest := r
	for _, rn := range roleNames {
		if r&rn.flag != 0 {
			names = append(names, rn.name)
			rest &^= rn.flag
		}
	}
	if rest != 0 || len(names) == 0 {
		names = append(names, strconv.Itoa(int(rest)))
	}
	return strings.Join(names, ", ")
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText accepts comma-separated flag names (case-insensitive) or a
// decimal number.
func (r *Role) UnmarshalText(text []byte) error {
	var out Role
	for _, part := range strings.Split(string(text), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.ParseUint(part, 10, 8); err == nil {
			out |= Role(n)
			continue
		}
		found := false
		for _, rn := range roleNames {
			if strings.EqualFold(rn.name, part) {
				out |= rn.flag
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown role %q", part)
		}
	}
	*r = out
	return nil
}

type Address struct {
	City   string `json:"city" yaml:"city"`
	Street string `json:"street" yaml:"street"`
	Zip    string `json:"zip,omitempty" yaml:"zip"`
}

type User struct {
	ID        int32     `json:"id" yaml:"id"`
	FirstName string    `json:"firstName" yaml:"firstName"`
	Username  string    `json:"username" yaml:"username"`
	Email     *string   `json:"email" yaml:"email"`
	Score     float64   `json:"score" yaml:"score"`
	Key       uuid.UUID `json:"key" yaml:"key"`
	Joined    time.Time `json:"joined" yaml:"joined"`
	Role      Role      `json:"role" yaml:"role"`
	Tags      []string  `json:"tags" yaml:"tags"`
	Address   Address   `json:"address" yaml:"address"`
	Blogs     []*Blog   `json:"blogs" yaml:"blogs"`
	Pets      []Pet     `json:"pets" yaml:"-"`
	Manager   *User     `json:"manager" yaml:"-"`
}

type Blog struct {
	ID    int32   `json:"id" yaml:"id"`
	Name  string  `json:"name" yaml:"name"`
	Posts []*Post `json:"posts" yaml:"posts"`
}

type Post struct {
	ID        int32      `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Likes     int64      `json:"likes" yaml:"likes"`
	Published *time.Time `json:"published" yaml:"published"`
}

// Pet is implemented by every pet type. Pets are serialized with a type
// tag.
type Pet interface {
	PetName() string
}

type Dog struct {
	Name  string `json:"name"`
	Breed string `json:"breed"`
}

func (d *Dog) PetName() string { return d.Name }

type Cat struct {
	Name  string `json:"name"`
	Lives int32  `json:"lives"`
}

func (c *Cat) PetName() string { return c.Name }

// Register registers the sample types under their type tags.
func Register(reg *meta.Registry) error {
	for _, t := range []struct {
		name   string
		sample any
	}{
		{"User", User{}},
		{"Address", Address{}},
		{"Blog", Blog{}},
		{"Post", Post{}},
		{"Dog", Dog{}},
		{"Cat", Cat{}},
	} {
		if err := reg.Register(t.name, t.sample); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry with the sample types registered.
func NewRegistry() *meta.Registry {
	reg := meta.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}
