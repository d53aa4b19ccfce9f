package sample

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed fixtures/users.yaml
var usersFixture []byte

// Fixture is the YAML document shape.
type Fixture struct {
	Users []UserDoc `yaml:"users"`
}

// UserDoc is a user as written in a fixture. Pets carry a type name and
// the manager is referenced by id.
type UserDoc struct {
	User    `yaml:",inline"`
	Pets    []PetDoc `yaml:"pets,omitempty"`
	Manager int32    `yaml:"manager,omitempty"`
}

type PetDoc struct {
	Type  string `yaml:"type"`
	Name  string `yaml:"name"`
	Breed string `yaml:"breed,omitempty"`
	Lives int32  `yaml:"lives,omitempty"`
}

// Users returns a fresh copy of the built-in demo data set: ten users with
// ids 1 through 10.
func Users() []*User {
	users, err := LoadFixture(bytes.NewReader(usersFixture))
	if err != nil {
		panic(fmt.Sprintf("sample: built-in fixture: %v", err))
	}
	return users
}

// LoadFixtureFile reads a fixture from path.
func LoadFixtureFile(path string) ([]*User, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer f.Close()
	return LoadFixture(f)
}

// LoadFixture decodes a fixture. Unknown fields are rejected, and every
// manager reference must name a user in the same fixture.
func LoadFixture(r io.Reader) ([]*User, error) {
	var doc Fixture
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	users := make([]*User, len(doc.Users))
	byID := make(map[int32]*User, len(doc.Users))
	for i := range doc.Users {
		d := &doc.Users[i]
		u := d.User
		for j, p := range d.Pets {
			pet, err := p.pet()
			if err != nil {
				return nil, fmt.Errorf("user %d pet %d: %w", u.ID, j, err)
			}
			u.Pets = append(u.Pets, pet)
		}
		if _, dup := byID[u.ID]; dup {
			return nil, fmt.Errorf("duplicate user id %d", u.ID)
		}
		users[i] = &u
		byID[u.ID] = &u
	}

	for i, d := range doc.Users {
		if d.Manager == 0 {
			continue
		}
		m, ok := byID[d.Manager]
		if !ok {
			return nil, fmt.Errorf("user %d: unknown manager %d", d.ID, d.Manager)
		}
		users[i].Manager = m
	}
	return users, nil
}

func (p PetDoc) pet() (Pet, error) {
	switch strings.ToLower(p.Type) {
	case "dog":
		return &Dog{Name: p.Name, Breed: p.Breed}, nil
	case "cat":
		return &Cat{Name: p.Name, Lives: p.Lives}, nil
	}
	return nil, fmt.Errorf("unknown pet type %q", p.Type)
}
