package projection

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shapeq/internal/binder"
	"github.com/roach88/shapeq/internal/clause"
	"github.com/roach88/shapeq/internal/meta"
	"github.com/roach88/shapeq/internal/sample"
)

var userType = reflect.TypeOf(&sample.User{})

type fixture struct {
	reg     *meta.Registry
	clauses *clause.Parser
}

func newFixture() *fixture {
	reg := sample.NewRegistry()
	return &fixture{reg: reg, clauses: clause.NewParser(reg, binder.New(reg))}
}

func (f *fixture) plan(t *testing.T, itemType reflect.Type, sel, exp string) *Plan {
	t.Helper()
	sb := clause.NewSelectBuilder(itemType)
	if sel != "" {
		require.NoError(t, f.clauses.ParseSelect(sel, sb))
	}
	eb := clause.NewExpandBuilder(itemType)
	if exp != "" {
		require.NoError(t, f.clauses.ParseExpand(exp, eb))
	}
	p, err := Build(f.reg, itemType, sb.Build(), eb.Build())
	require.NoError(t, err)
	return p
}

func reshapeUser(t *testing.T, p *Plan, u *sample.User) *sample.User {
	t.Helper()
	out, err := p.Reshape(context.Background(), reflect.ValueOf(u))
	require.NoError(t, err)
	return out.Interface().(*sample.User)
}

func blogNames(blogs []*sample.Blog) []string {
	names := make([]string, len(blogs))
	for i, b := range blogs {
		names[i] = b.Name
	}
	return names
}

func TestReshape_StarLeavesNavigationsNil(t *testing.T) {
	f := newFixture()
	src := sample.Users()[0]

	for _, sel := range []string{"", "*"} {
		t.Run("select="+sel, func(t *testing.T) {
			out := reshapeUser(t, f.plan(t, userType, sel, ""), src)

			assert.NotSame(t, src, out)
			assert.Equal(t, src.ID, out.ID)
			assert.Equal(t, src.FirstName, out.FirstName)
			assert.Equal(t, src.Email, out.Email)
			assert.Equal(t, src.Key, out.Key)
			assert.Equal(t, src.Address, out.Address)
			assert.Equal(t, src.Tags, out.Tags)

			assert.Nil(t, out.Blogs)
			assert.Nil(t, out.Pets)
			assert.Nil(t, out.Manager)
		})
	}
}

func TestReshape_SelectedMembersOnly(t *testing.T) {
	f := newFixture()
	src := sample.Users()[0]
	out := reshapeUser(t, f.plan(t, userType, "firstName,address/city,blogs", ""), src)

	assert.Equal(t, "Ada", out.FirstName)
	assert.Zero(t, out.ID)
	assert.Zero(t, out.Username)
	assert.Nil(t, out.Email)
	assert.Equal(t, sample.Address{City: "London"}, out.Address)
	assert.Nil(t, out.Blogs, "selecting a navigation does not expand it")
}

func TestReshape_ExpandBranchOptions(t *testing.T) {
	f := newFixture()
	src := sample.Users()[0]
	p := f.plan(t, userType, "", "blogs($filter=startswith(name,'Match');$orderby=name desc;$skip=1;$top=2)")

	out := reshapeUser(t, p, src)
	assert.Equal(t, []string{"Match2", "Match1"}, blogNames(out.Blogs))
	assert.Nil(t, out.Blogs[1].Posts, "posts are not expanded")

	assert.Equal(t, []string{"Match1", "Match2", "NotMatch3", "NotMatch4", "Match5"}, blogNames(src.Blogs),
		"the source is not modified")
	assert.Len(t, src.Blogs[0].Posts, 2)
}

func TestReshape_NestedExpand(t *testing.T) {
	f := newFixture()
	src := sample.Users()[0]
	p := f.plan(t, userType, "id", "blogs($top=1;$select=name;$expand=posts($orderby=likes;$select=title))")

	out := reshapeUser(t, p, src)
	assert.Equal(t, int32(1), out.ID)
	assert.Zero(t, out.FirstName)
	require.Len(t, out.Blogs, 1)

	blog := out.Blogs[0]
	assert.Equal(t, "Match1", blog.Name)
	assert.Zero(t, blog.ID)
	require.Len(t, blog.Posts, 2)
	assert.Equal(t, "Loops", blog.Posts[0].Title)
	assert.Zero(t, blog.Posts[0].Likes)
	assert.Equal(t, "Notes on the engine", blog.Posts[1].Title)
}

func TestReshape_SingleReference(t *testing.T) {
	f := newFixture()
	users := sample.Users()
	p := f.plan(t, userType, "username", "manager($select=firstName)")

	out := reshapeUser(t, p, users[2])
	require.NotNil(t, out.Manager)
	assert.NotSame(t, users[0], out.Manager)
	assert.Equal(t, "Ada", out.Manager.FirstName)
	assert.Zero(t, out.Manager.Username)
	assert.Nil(t, out.Manager.Blogs)

	out = reshapeUser(t, p, users[0])
	assert.Nil(t, out.Manager, "a nil reference stays nil")
}

func TestReshape_PolymorphicCollection(t *testing.T) {
	f := newFixture()
	src := sample.Users()[0]
	p := f.plan(t, userType, "", "pets")

	out := reshapeUser(t, p, src)
	require.Len(t, out.Pets, 2)

	dog, ok := out.Pets[0].(*sample.Dog)
	require.True(t, ok)
	assert.NotSame(t, src.Pets[0], dog)
	assert.Equal(t, sample.Dog{Name: "Rex", Breed: "collie"}, *dog)

	cat, ok := out.Pets[1].(*sample.Cat)
	require.True(t, ok)
	assert.Equal(t, int32(9), cat.Lives)
}

func TestReshape_InterfaceItemsMemoizedPerType(t *testing.T) {
	f := newFixture()
	petType := reflect.TypeOf((*sample.Pet)(nil)).Elem()
	p, err := Build(f.reg, petType, nil, nil)
	require.NoError(t, err)

	for _, pet := range []sample.Pet{&sample.Dog{Name: "a"}, &sample.Cat{Name: "b"}, &sample.Dog{Name: "c"}} {
		v := reflect.New(petType).Elem()
		v.Set(reflect.ValueOf(pet))
		out, err := p.Reshape(context.Background(), v)
		require.NoError(t, err)
		assert.Equal(t, pet.PetName(), out.Interface().(sample.Pet).PetName())
	}

	n := 0
	p.structs.Range(func(_, _ any) bool { n++; return true })
	assert.Equal(t, 2, n)
}

type team struct {
	Name    string                  `json:"name"`
	Members map[string]*sample.User `json:"members"`
	Leads   [2]*sample.User         `json:"leads"`
}

func TestReshape_DictionaryAndArray(t *testing.T) {
	f := newFixture()
	users := sample.Users()
	src := &team{
		Name:    "core",
		Members: map[string]*sample.User{"ada": users[0], "none": nil},
		Leads:   [2]*sample.User{users[1], users[2]},
	}
	p := f.plan(t, reflect.TypeOf(src), "", "members($select=username),leads($orderby=id desc;$top=1)")

	v, err := p.Reshape(context.Background(), reflect.ValueOf(src))
	require.NoError(t, err)
	out := v.Interface().(*team)

	assert.Equal(t, "core", out.Name)
	require.Len(t, out.Members, 2)
	assert.Equal(t, "ada", out.Members["ada"].Username)
	assert.Zero(t, out.Members["ada"].ID)
	assert.Nil(t, out.Members["none"])

	require.NotNil(t, out.Leads[0])
	assert.Equal(t, int32(3), out.Leads[0].ID)
	assert.Nil(t, out.Leads[1])
}

func TestReshape_ValueItems(t *testing.T) {
	f := newFixture()
	src := sample.User{ID: 4, FirstName: "Alan", Blogs: []*sample.Blog{{Name: "x"}}}
	p := f.plan(t, reflect.TypeOf(src), "id", "")

	v, err := p.Reshape(context.Background(), reflect.ValueOf(src))
	require.NoError(t, err)
	assert.Equal(t, sample.User{ID: 4}, v.Interface())
}

func TestPlan_Loads(t *testing.T) {
	f := newFixture()
	p := f.plan(t, userType, "", "blogs")
	d, err := f.reg.Describe(userType)
	require.NoError(t, err)

	for _, name := range []string{"id", "address", "blogs"} {
		prop, _ := d.Property(name)
		assert.True(t, p.Loads(prop), name)
	}
	for _, name := range []string{"pets", "manager"} {
		prop, _ := d.Property(name)
		assert.False(t, p.Loads(prop), name)
	}
}
