// Package redis implements engine.VariableStore on Redis, so several bops
// processes can share variable bindings.
//
// Each binding is a JSON document under <prefix>:var:<operation>:<name>.
// Updates run optimistically: the key is watched, the update function computes
// the next value, and the write commits in a MULTI block. A concurrent write
// aborts the transaction and the update is retried with the new value, so the
// update function may run more than once.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	backend "github.com/redis/go-redis/v9"

	"github.com/metasys/bops/pkg/engine"
)

// DefaultMaxRetries bounds the optimistic retries of one update.
const DefaultMaxRetries = 32

// ErrContention is returned when an update lost every optimistic retry.
var ErrContention = errors.New("variable update lost to concurrent writers")

// Store implements engine.VariableStore using Redis.
type Store struct {
	client     *backend.Client
	prefix     string
	maxRetries int
}

var _ engine.VariableStore = (*Store)(nil)

type Option func(*Store)

// WithPrefix sets the key prefix for bindings.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithMaxRetries sets how often a conflicting update is retried.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client:     client,
		prefix:     "bops",
		maxRetries: DefaultMaxRetries,
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(operation, name string) string {
	return s.prefix + ":var:" + operation + ":" + name
}

// Declare implements engine.VariableStore. Bindings that already exist,
// possibly written by another process, keep their value.
func (s *Store) Declare(ctx context.Context, operation string, decls []engine.VariableDeclaration) error {
	type pending struct {
		key  string
		data []byte
	}
	writes := make([]pending, 0, len(decls))

	for _, decl := range decls {
		v := engine.Variable{Name: decl.Name, Type: decl.Type}
		initial, err := engine.CheckVariable(operation, v, decl.InitialValue)
		if err != nil {
			return err
		}
		v.Value = initial

		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal variable %s: %w", decl.Name, err)
		}
		writes = append(writes, pending{key: s.key(operation, decl.Name), data: data})
	}

	_, err := s.client.Pipelined(ctx, func(pipe backend.Pipeliner) error {
		for _, w := range writes {
			pipe.SetNX(ctx, w.key, w.data, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to declare variables of %s: %w", operation, err)
	}
	return nil
}

// Get implements engine.VariableStore.
func (s *Store) Get(ctx context.Context, operation, name string) (engine.Variable, error) {
	data, err := s.client.Get(ctx, s.key(operation, name)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return engine.Variable{}, engine.VariableNotFoundError(operation, name)
		}
		return engine.Variable{}, fmt.Errorf("failed to get from redis: %w", err)
	}
	return decode(operation, data)
}

// Update implements engine.VariableStore. Errors from fn and type mismatches
// are returned together with the unchanged binding.
func (s *Store) Update(ctx context.Context, operation, name string, fn func(engine.Variable) (any, error)) (engine.Variable, error) {
	key := s.key(operation, name)

	var result engine.Variable
	txf := func(tx *backend.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, backend.Nil) {
				return engine.VariableNotFoundError(operation, name)
			}
			return fmt.Errorf("failed to get from redis: %w", err)
		}

		current, err := decode(operation, data)
		if err != nil {
			return err
		}
		result = current

		next, err := fn(current)
		if err != nil {
			return err
		}
		coerced, err := engine.CheckVariable(operation, current, next)
		if err != nil {
			return err
		}

		updated := current
		updated.Value = coerced
		encoded, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to marshal variable %s: %w", name, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = updated
		return nil
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, backend.TxFailedErr) {
			continue
		}
		return result, err
	}

	return result, fmt.Errorf("variable %q of %s: %w after %d attempts", name, operation, ErrContention, s.maxRetries)
}

// decode reads a stored binding and restores its declared type. JSON turns
// dates into strings and numbers into float64.
func decode(operation string, data []byte) (engine.Variable, error) {
	var v engine.Variable
	if err := json.Unmarshal(data, &v); err != nil {
		return engine.Variable{}, fmt.Errorf("failed to unmarshal variable: %w", err)
	}
	value, err := engine.CheckVariable(operation, v, v.Value)
	if err != nil {
		return engine.Variable{}, err
	}
	v.Value = value
	return v, nil
}
