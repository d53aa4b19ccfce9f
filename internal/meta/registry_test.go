package meta

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type animal interface{ Sound() string }

type dog struct {
	Name  string `json:"name"`
	Breed string `json:"breed,omitempty"`
}

func (dog) Sound() string { return "woof" }

type audit struct {
	Created time.Time `json:"created"`
}

type place struct {
	City string `json:"city"`
}

type owner struct {
	audit
	Home    place             `json:"home"`
	ID      int32             `json:"id"`
	Secret  string            `json:"-"`
	Label   string            // untagged
	Key     uuid.UUID         `json:"key"`
	Pets    []animal          `json:"pets"`
	Best    *dog              `json:"best"`
	ByName  map[string]dog    `json:"byName"`
	Tags    []string          `json:"tags"`
	Extra   map[string]string `json:"extra"`
	private int
}

func TestDescribe_Properties(t *testing.T) {
	r := NewRegistry()
	d, err := r.Describe(reflect.TypeOf(&owner{}))
	require.NoError(t, err)

	var names []string
	for _, p := range d.Properties {
		names = append(names, p.JSONName)
	}
	assert.Equal(t, []string{"created", "home", "id", "Label", "key", "pets", "best", "byName", "tags", "extra"}, names)
	assert.Equal(t, "owner", d.Name)
}

func TestDescribe_CaseInsensitiveLookup(t *testing.T) {
	r := NewRegistry()
	d, err := r.Describe(reflect.TypeOf(owner{}))
	require.NoError(t, err)

	p, ok := d.Property("ID")
	require.True(t, ok)
	assert.Equal(t, "id", p.JSONName)

	p, ok = d.Property("label")
	require.True(t, ok)
	assert.Equal(t, "Label", p.Name)

	_, ok = d.Property("Secret")
	assert.False(t, ok, "json:\"-\" fields are not API-visible")
}

func TestDescribe_NavigationClassification(t *testing.T) {
	r := NewRegistry()
	d, err := r.Describe(reflect.TypeOf(owner{}))
	require.NoError(t, err)

	testCases := []struct {
		name       string
		nav        bool
		collection bool
		dictionary bool
	}{
		{"id", false, false, false},
		{"home", false, false, false},
		{"key", false, false, false},
		{"created", false, false, false},
		{"tags", false, false, false},
		{"extra", false, false, false},
		{"pets", true, true, false},
		{"best", true, false, false},
		{"byName", true, false, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, ok := d.Property(tc.name)
			require.True(t, ok)
			assert.Equal(t, tc.nav, p.Navigation)
			assert.Equal(t, tc.collection, p.Collection)
			assert.Equal(t, tc.dictionary, p.Dictionary)
		})
	}
}

func TestDescribe_AtomicTypesHaveNoDescriptor(t *testing.T) {
	r := NewRegistry()
	_, err := r.Describe(reflect.TypeOf(time.Time{}))
	assert.ErrorIs(t, err, ErrNotStructured)
	_, err = r.Describe(reflect.TypeOf(uuid.UUID{}))
	assert.ErrorIs(t, err, ErrNotStructured)
	_, err = r.Describe(reflect.TypeOf(0))
	assert.ErrorIs(t, err, ErrNotStructured)
}

func TestDescribe_DuplicateNames(t *testing.T) {
	type clash struct {
		A string `json:"name"`
		B string `json:"Name"`
	}
	_, err := NewRegistry().Describe(reflect.TypeOf(clash{}))
	require.Error(t, err)
}

func TestDescribe_ConcurrentFirstAccess(t *testing.T) {
	r := NewRegistry()
	const n = 16
	results := make([]*TypeDescriptor, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := r.Describe(reflect.TypeOf(owner{}))
			if err == nil {
				results[i] = d
			}
		}(i)
	}
	wg.Wait()

	for _, d := range results {
		assert.Same(t, results[0], d)
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("Dog", dog{}))
	require.NoError(t, r.Register("Dog", &dog{}), "re-registering the same type is idempotent")
	assert.Error(t, r.Register("dog", owner{}))

	d, err := r.Lookup("DOG")
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeOf(dog{}), d.Type)
	assert.Equal(t, "Dog", d.Name)

	_, err = r.Lookup("cat")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestRegistry_Implementations(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("Dog", dog{})
	r.MustRegister("Owner", owner{})

	impls := r.Implementations(reflect.TypeOf((*animal)(nil)).Elem())
	require.Len(t, impls, 1)
	assert.Equal(t, "Dog", impls[0].Name)
}

func TestProperty_GetSet(t *testing.T) {
	r := NewRegistry()
	d, err := r.Describe(reflect.TypeOf(owner{}))
	require.NoError(t, err)

	o := &owner{}
	id, _ := d.Property("id")
	id.Set(reflect.ValueOf(o), reflect.ValueOf(int32(7)))
	assert.Equal(t, int32(7), o.ID)
	assert.Equal(t, int32(7), id.Get(reflect.ValueOf(o)).Interface())

	created, _ := d.Property("created")
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	created.Set(reflect.ValueOf(o), reflect.ValueOf(now))
	assert.Equal(t, now, o.Created)

	assert.False(t, id.Get(reflect.ValueOf((*owner)(nil))).IsValid())
}
