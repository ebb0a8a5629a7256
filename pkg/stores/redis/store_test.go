package redis_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"

	"github.com/metasys/bops/pkg/engine"
	"github.com/metasys/bops/pkg/functions"
	"github.com/metasys/bops/pkg/stores/redis"
)

func setup(t *testing.T, opts ...redis.Option) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	store := redis.NewFromClient(client, opts...)
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

var counters = []engine.VariableDeclaration{
	{Name: "count", Type: engine.TypeNumber, InitialValue: 10},
	{Name: "label", Type: engine.TypeString, InitialValue: "none"},
}

func declare(t *testing.T, store *redis.Store, operation string, decls []engine.VariableDeclaration) {
	t.Helper()
	if err := store.Declare(context.Background(), operation, decls); err != nil {
		t.Fatalf("Declare() error = %v", err)
	}
}

func get(t *testing.T, store *redis.Store, operation, name string) engine.Variable {
	t.Helper()
	v, err := store.Get(context.Background(), operation, name)
	if err != nil {
		t.Fatalf("Get(%s, %s) error = %v", operation, name, err)
	}
	return v
}

func TestStore_DeclareAndGet(t *testing.T) {
	store, mr := setup(t, redis.WithPrefix("test"))

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	declare(t, store, "counter", counters)

	want := engine.Variable{Name: "count", Type: engine.TypeNumber, Value: float64(10)}
	if count := get(t, store, "counter", "count"); count != want {
		t.Errorf("count = %+v, want %+v", count, want)
	}
	if label := get(t, store, "counter", "label"); label.Value != "none" {
		t.Errorf("label = %v, want none", label.Value)
	}

	if !mr.Exists("test:var:counter:count") {
		t.Error("expected key test:var:counter:count")
	}
}

func TestStore_DeclareKeepsExistingValues(t *testing.T) {
	store, _ := setup(t)
	ctx := context.Background()

	declare(t, store, "counter", counters)
	if _, err := store.Update(ctx, "counter", "count", func(engine.Variable) (any, error) { return 42, nil }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	declare(t, store, "counter", counters)

	if count := get(t, store, "counter", "count"); count.Value != float64(42) {
		t.Errorf("count = %v, want 42", count.Value)
	}
}

func TestStore_DeclareTypeMismatch(t *testing.T) {
	store, mr := setup(t)

	err := store.Declare(context.Background(), "counter", []engine.VariableDeclaration{
		{Name: "ok", Type: engine.TypeString, InitialValue: "x"},
		{Name: "count", Type: engine.TypeNumber, InitialValue: "ten"},
	})
	if !errors.Is(err, engine.ErrVariableTypeMismatch) {
		t.Fatalf("Declare() error = %v, want variable type mismatch", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("nothing should be written when a declaration is invalid, got keys %v", keys)
	}
}

func TestStore_ScopedByOperation(t *testing.T) {
	store, _ := setup(t)
	ctx := context.Background()

	declare(t, store, "counter", counters)

	if _, err := store.Get(ctx, "other", "count"); !errors.Is(err, engine.ErrVariableNotFound) {
		t.Errorf("Get() error = %v, want variable not found", err)
	}

	_, err := store.Update(ctx, "other", "count", func(engine.Variable) (any, error) { return 1, nil })
	if !errors.Is(err, engine.ErrVariableNotFound) {
		t.Errorf("Update() error = %v, want variable not found", err)
	}
}

func TestStore_Update(t *testing.T) {
	store, _ := setup(t)
	ctx := context.Background()
	declare(t, store, "counter", counters)

	updated, err := store.Update(ctx, "counter", "count", func(current engine.Variable) (any, error) {
		n, _ := engine.AsNumber(current.Value)
		return n + 5, nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Value != float64(15) {
		t.Errorf("updated = %v, want 15", updated.Value)
	}

	t.Run("function error leaves the value", func(t *testing.T) {
		boom := errors.New("boom")
		current, err := store.Update(ctx, "counter", "count", func(engine.Variable) (any, error) { return nil, boom })
		if !errors.Is(err, boom) {
			t.Errorf("Update() error = %v, want %v", err, boom)
		}
		if current.Value != float64(15) {
			t.Errorf("current = %v, want 15", current.Value)
		}
	})

	t.Run("type mismatch leaves the value", func(t *testing.T) {
		current, err := store.Update(ctx, "counter", "count", func(engine.Variable) (any, error) { return "sixteen", nil })
		if !errors.Is(err, engine.ErrVariableTypeMismatch) {
			t.Errorf("Update() error = %v, want variable type mismatch", err)
		}
		if current.Value != float64(15) {
			t.Errorf("current = %v, want 15", current.Value)
		}
		if stored := get(t, store, "counter", "count"); stored.Value != float64(15) {
			t.Errorf("stored = %v, want 15", stored.Value)
		}
	})
}

func TestStore_Dates(t *testing.T) {
	store, _ := setup(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	declare(t, store, "schedule", []engine.VariableDeclaration{
		{Name: "next", Type: engine.TypeDate, InitialValue: "2026-01-02T03:04:05Z"},
	})

	v := get(t, store, "schedule", "next")
	got, ok := v.Value.(time.Time)
	if !ok {
		t.Fatalf("expected a time.Time, got %T", v.Value)
	}
	if !got.Equal(start) {
		t.Errorf("next = %v, want %v", got, start)
	}

	updated, err := store.Update(ctx, "schedule", "next", func(current engine.Variable) (any, error) {
		return current.Value.(time.Time).Add(time.Hour), nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if next, ok := updated.Value.(time.Time); !ok || !next.Equal(start.Add(time.Hour)) {
		t.Errorf("updated = %v, want %v", updated.Value, start.Add(time.Hour))
	}
}

func TestStore_ConcurrentUpdatesAcrossClients(t *testing.T) {
	_, mr := setup(t)
	ctx := context.Background()

	// two stores stand in for two processes sharing the server
	newStore := func() *redis.Store {
		s := redis.NewFromClient(backend.NewClient(&backend.Options{Addr: mr.Addr()}), redis.WithMaxRetries(1000))
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	a, b := newStore(), newStore()
	declare(t, a, "counter", counters)
	declare(t, b, "counter", counters)

	increment := func(current engine.Variable) (any, error) {
		n, _ := engine.AsNumber(current.Value)
		return n + 1, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		store := a
		if i%2 == 1 {
			store = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Update(ctx, "counter", "count", increment); err != nil {
				t.Errorf("Update() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if count := get(t, a, "counter", "count"); count.Value != float64(50) {
		t.Errorf("count = %v, want 50", count.Value)
	}
}

func TestStore_Contention(t *testing.T) {
	store, mr := setup(t, redis.WithMaxRetries(2))
	ctx := context.Background()
	declare(t, store, "counter", counters)

	other := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = other.Close() })

	calls := 0
	_, err := store.Update(ctx, "counter", "count", func(current engine.Variable) (any, error) {
		calls++
		// a write from elsewhere between WATCH and EXEC aborts the transaction
		if err := other.Set(ctx, "bops:var:counter:count", `{"name":"count","type":"number","value":99}`, 0).Err(); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		return 1, nil
	})
	if !errors.Is(err, redis.ErrContention) {
		t.Errorf("Update() error = %v, want %v", err, redis.ErrContention)
	}
	if calls != 2 {
		t.Errorf("update function ran %d times, want 2", calls)
	}
}

func TestStore_SharedAcrossEngines(t *testing.T) {
	store, _ := setup(t)
	ctx := context.Background()

	op := engine.Operation{
		Name:      "counter",
		Variables: []engine.VariableDeclaration{{Name: "count", Type: engine.TypeNumber, InitialValue: 0}},
		Nodes: []engine.Node{
			{Reference: "increaseVariable", Kind: engine.KindVariable, Key: 1, Dependencies: []engine.Dependency{
				{Origin: engine.StaticOrigin(engine.SourceInputs), OriginPath: "name", TargetPath: "variableName"},
			}},
			{Reference: engine.OutputReference, Key: 0, Dependencies: []engine.Dependency{
				{Origin: engine.NodeOrigin(1), OriginPath: "result.newValue", TargetPath: "count"},
			}},
		},
	}

	run := func() map[string]any {
		e := engine.New(
			engine.WithRegistry(functions.NewCatalog(nil).Registry()),
			engine.WithVariableStore(store),
		)
		if err := e.Load(ctx, op); err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		exec, err := e.Stitch(ctx, "counter")
		if err != nil {
			t.Fatalf("Stitch() error = %v", err)
		}
		out, err := exec(ctx, map[string]any{"name": "count"})
		if err != nil {
			t.Fatalf("exec() error = %v", err)
		}
		return out
	}

	if out := run(); !reflect.DeepEqual(out, map[string]any{"count": float64(1)}) {
		t.Errorf("first run = %v, want count 1", out)
	}
	// a second engine sees the binding left by the first
	if out := run(); !reflect.DeepEqual(out, map[string]any{"count": float64(2)}) {
		t.Errorf("second run = %v, want count 2", out)
	}
}
