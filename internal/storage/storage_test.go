package storage

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/nlstn/go-entityhub/internal/patch"
	"github.com/nlstn/go-entityhub/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seedUsers = []Entity{
	{Key: "1", Value: json.RawMessage(`{"name":"Peter","age":40,"tags":["admin"]}`)},
	{Key: "2", Value: json.RawMessage(`{"name":"John","age":30,"tags":[]}`)},
	{Key: "3", Value: json.RawMessage(`{"name":"Mary","age":null}`)},
}

type containerFactory func(t *testing.T) Container

func containerFactories() map[string]containerFactory {
	return map[string]containerFactory{
		"memory": func(t *testing.T) Container {
			return NewMemoryContainer("users")
		},
		"sqlite": func(t *testing.T) Container {
			db, err := OpenSQLite(":memory:")
			require.NoError(t, err)
			sqlDB, err := db.DB()
			require.NoError(t, err)
			t.Cleanup(func() { _ = sqlDB.Close() })
			c, err := NewSQLContainer(context.Background(), db, "users")
			require.NoError(t, err)
			return c
		},
	}
}

func seeded(t *testing.T, factory containerFactory) Container {
	t.Helper()
	c := factory(t)
	for _, e := range seedUsers {
		require.NoError(t, c.Create(context.Background(), e))
	}
	return c
}

func mustFilter(t *testing.T, source string) query.FilterOperation {
	t.Helper()
	filter, err := query.ParseFilter(source, nil)
	require.NoError(t, err)
	return filter
}

func keys(entities []Entity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.Key)
	}
	return out
}

func TestContainerCreateAndRead(t *testing.T) {
	for name, factory := range containerFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := seeded(t, factory)
			assert.Equal(t, "users", c.Name())

			e, err := c.Read(ctx, "1")
			require.NoError(t, err)
			assert.JSONEq(t, string(seedUsers[0].Value), string(e.Value))

			assert.ErrorIs(t, c.Create(ctx, seedUsers[0]), ErrEntityExists)
			_, err = c.Read(ctx, "missing")
			assert.ErrorIs(t, err, ErrEntityNotFound)
			assert.ErrorIs(t, c.Create(ctx, Entity{Value: json.RawMessage(`{}`)}), ErrInvalidKey)
			assert.ErrorIs(t, c.Create(ctx, Entity{Key: "x", Value: json.RawMessage(`{`)}), ErrInvalidValue)
		})
	}
}

func TestContainerUpsert(t *testing.T) {
	for name, factory := range containerFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := seeded(t, factory)

			previous, err := c.Upsert(ctx, Entity{Key: "4", Value: json.RawMessage(`{"name":"Zoe"}`)})
			require.NoError(t, err)
			assert.Nil(t, previous)

			previous, err = c.Upsert(ctx, Entity{Key: "4", Value: json.RawMessage(`{"name":"Zoë"}`)})
			require.NoError(t, err)
			assert.JSONEq(t, `{"name":"Zoe"}`, string(previous))

			e, err := c.Read(ctx, "4")
			require.NoError(t, err)
			assert.JSONEq(t, `{"name":"Zoë"}`, string(e.Value))
		})
	}
}

func TestContainerQueryEntities(t *testing.T) {
	cases := []struct {
		filter string
		want   []string
	}{
		{"o => o.age > 35", []string{"1"}},
		{"o => o.age == null", []string{"3"}},
		{"o => o.name.StartsWith('J') || o.name.EndsWith('y')", []string{"2", "3"}},
		{"o => o.tags.Any(t => t == 'admin')", []string{"1"}},
		{"o => o.tags.All(t => t == 'admin')", []string{"1", "2", "3"}},
		{"o => o.name.Length() == 4", []string{"2", "3"}},
		{"o => !(o.age >= 30)", []string{"3"}},
		{"o => Sqrt(o.age) > 6", []string{"1"}},
		{"o => Log(o.age) < 3.5", []string{"2"}},
		{"o => Exp(o.age / 10) > 50", []string{"1"}},
		{"o => o.age % 7.5 == 2.5", []string{"1"}},
	}
	for name, factory := range containerFactories() {
		t.Run(name, func(t *testing.T) {
			c := seeded(t, factory)
			all, err := c.QueryEntities(context.Background(), nil)
			require.NoError(t, err)
			assert.Equal(t, []string{"1", "2", "3"}, keys(all))

			for _, tc := range cases {
				got, err := c.QueryEntities(context.Background(), mustFilter(t, tc.filter))
				require.NoError(t, err, tc.filter)
				assert.Equal(t, tc.want, keys(got), tc.filter)
			}
		})
	}
}

func TestContainerPatch(t *testing.T) {
	for name, factory := range containerFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := seeded(t, factory)

			previous, current, err := c.Patch(ctx, "1", patch.List{
				patch.Replace{Path: "/age", Value: json.Number("41")},
				patch.Add{Path: "/tags/-", Value: "owner"},
				patch.Remove{Path: "/name"},
			})
			require.NoError(t, err)
			assert.JSONEq(t, string(seedUsers[0].Value), string(previous))
			assert.JSONEq(t, `{"age":41,"tags":["admin","owner"]}`, string(current))

			e, err := c.Read(ctx, "1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"age":41,"tags":["admin","owner"]}`, string(e.Value))

			// a failing patch leaves the entity unchanged
			_, _, err = c.Patch(ctx, "1", patch.List{
				patch.Replace{Path: "/age", Value: 1},
				patch.Test{Path: "/age", Value: 2},
			})
			assert.ErrorIs(t, err, patch.ErrTestFailed)
			e, err = c.Read(ctx, "1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"age":41,"tags":["admin","owner"]}`, string(e.Value))

			_, _, err = c.Patch(ctx, "missing", nil)
			assert.ErrorIs(t, err, ErrEntityNotFound)
		})
	}
}

func TestContainerDelete(t *testing.T) {
	for name, factory := range containerFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := seeded(t, factory)

			previous, err := c.Delete(ctx, "2")
			require.NoError(t, err)
			assert.JSONEq(t, string(seedUsers[1].Value), string(previous))

			_, err = c.Read(ctx, "2")
			assert.ErrorIs(t, err, ErrEntityNotFound)
			_, err = c.Delete(ctx, "2")
			assert.ErrorIs(t, err, ErrEntityNotFound)
		})
	}
}

func TestMemoryContainerClose(t *testing.T) {
	c := seeded(t, containerFactories()["memory"])
	require.NoError(t, c.Close())

	_, err := c.Read(context.Background(), "1")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.QueryEntities(context.Background(), nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryContainerValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryContainer("users")
	value := json.RawMessage(`{"a":1}`)
	require.NoError(t, c.Create(ctx, Entity{Key: "1", Value: value}))
	value[2] = 'b'

	e, err := c.Read(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(e.Value))
}

func TestMemoryContainerConcurrentQueries(t *testing.T) {
	c := seeded(t, containerFactories()["memory"])

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.QueryEntities(context.Background(), mustFilter(t, "o => o.age > 35"))
			assert.NoError(t, err)
			assert.Equal(t, []string{"1"}, keys(got))
		}()
	}
	wg.Wait()
}

func TestMemoryContainerRejectsSharedFilter(t *testing.T) {
	c := seeded(t, containerFactories()["memory"])
	filter := mustFilter(t, "o => o.age > 35")

	eval, err := query.NewEvaluation(filter)
	require.NoError(t, err)
	defer eval.Close()

	_, err = c.QueryEntities(context.Background(), filter)
	assert.ErrorIs(t, err, query.ErrInvalidReuse)
}

func TestSQLContainerRejectsUncompilableFilter(t *testing.T) {
	c := seeded(t, containerFactories()["sqlite"])
	_, err := c.QueryEntities(context.Background(), mustFilter(t, "o => o.a == Tau"))
	assert.Error(t, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "", nil)
	assert.Error(t, err)
}

func TestOpenSQLiteCustomTable(t *testing.T) {
	db, err := Open("sqlite", "", nil)
	require.NoError(t, err)
	c, err := NewSQLContainer(context.Background(), db, "users", WithTable("user_entities"))
	require.NoError(t, err)
	require.NoError(t, c.Create(context.Background(), seedUsers[0]))

	var count int64
	require.NoError(t, db.Table("user_entities").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
