package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryVariableStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVariableStore()

	require.NoError(t, store.Declare(ctx, "op", []VariableDeclaration{
		{Name: "isAdult", Type: TypeBoolean, InitialValue: false},
		{Name: "count", Type: TypeNumber, InitialValue: 1},
		{Name: "since", Type: TypeDate, InitialValue: "2024-05-01T00:00:00Z"},
	}))

	v, err := store.Get(ctx, "op", "count")
	require.NoError(t, err)
	assert.Equal(t, float64(1), v.Value)

	since, err := store.Get(ctx, "op", "since")
	require.NoError(t, err)
	assert.IsType(t, time.Time{}, since.Value)

	t.Run("variables are scoped per operation", func(t *testing.T) {
		_, err := store.Get(ctx, "other", "count")
		assert.ErrorIs(t, err, ErrVariableNotFound)
		assert.Contains(t, err.Error(), `No variable named "count" was found`)
	})

	t.Run("redeclaring keeps the current value", func(t *testing.T) {
		_, err := store.Update(ctx, "op", "isAdult", func(Variable) (any, error) { return true, nil })
		require.NoError(t, err)
		require.NoError(t, store.Declare(ctx, "op", []VariableDeclaration{{Name: "isAdult", Type: TypeBoolean, InitialValue: false}}))

		v, err := store.Get(ctx, "op", "isAdult")
		require.NoError(t, err)
		assert.Equal(t, true, v.Value)
	})

	t.Run("updates are type checked", func(t *testing.T) {
		_, err := store.Update(ctx, "op", "count", func(Variable) (any, error) { return "many", nil })
		assert.ErrorIs(t, err, ErrVariableTypeMismatch)

		v, err := store.Get(ctx, "op", "count")
		require.NoError(t, err)
		assert.Equal(t, float64(1), v.Value)
	})

	t.Run("update errors leave the value untouched", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := store.Update(ctx, "op", "count", func(Variable) (any, error) { return nil, boom })
		assert.Same(t, boom, err)
	})

	t.Run("concurrent updates are serialized", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Update(ctx, "op", "count", func(current Variable) (any, error) {
					return current.Value.(float64) + 1, nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		v, err := store.Get(ctx, "op", "count")
		require.NoError(t, err)
		assert.Equal(t, float64(101), v.Value)
	})
}

func TestVariables_ObservesMutations(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVariableStore()
	require.NoError(t, store.Declare(ctx, "op", []VariableDeclaration{{Name: "name", Type: TypeString, InitialValue: ""}}))

	var observed []string
	vars := NewVariables(store, "op")
	vars.observe = func(name string, err error) {
		if err == nil {
			observed = append(observed, name)
		}
	}

	v, err := vars.Set(ctx, "name", "ada")
	require.NoError(t, err)
	assert.Equal(t, "ada", v.Value)

	_, err = vars.Set(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrVariableNotFound)

	assert.Equal(t, []string{"name"}, observed)
}
