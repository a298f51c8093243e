package kvstore

import (
	"context"
	"time"

	"github.com/platinummonkey/autohub/pkg/observability"
)

type namespaced struct {
	store  Store
	prefix string
}

// Namespace scopes every key of store under prefix
func Namespace(store Store, prefix string) Store {
	return &namespaced{store: store, prefix: prefix}
}

func (n *namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	if err := checkKey(key); err != nil {
		return "", false, err
	}
	return n.store.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return n.store.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) Remove(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return n.store.Remove(ctx, n.prefix+key)
}

type instrumented struct {
	store   Store
	backend string
	metrics *observability.Metrics
}

// Instrument records operation counts and latencies for store
func Instrument(store Store, backend string, metrics *observability.Metrics) Store {
	return &instrumented{store: store, backend: backend, metrics: metrics}
}

func (i *instrumented) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	value, ok, err := i.store.Get(ctx, key)
	i.metrics.ObserveKVOperation("get", i.backend, err, time.Since(start))
	return value, ok, err
}

func (i *instrumented) Set(ctx context.Context, key, value string) error {
	start := time.Now()
	err := i.store.Set(ctx, key, value)
	i.metrics.ObserveKVOperation("set", i.backend, err, time.Since(start))
	return err
}

func (i *instrumented) Remove(ctx context.Context, key string) error {
	start := time.Now()
	err := i.store.Remove(ctx, key)
	i.metrics.ObserveKVOperation("remove", i.backend, err, time.Since(start))
	return err
}
