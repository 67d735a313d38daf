package model

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Brownie44l1/anime-style-api/internal/pipeline"
)

// Opener builds an engine from provisioned artifacts.
type Opener func(Artifacts) (pipeline.Engine, error)

// ArtifactSource makes a model's files available locally.
type ArtifactSource interface {
	Ensure(ctx context.Context, m StyleModel) (Artifacts, error)
}

// Loader resolves model names to ready engines.
type Loader struct {
	source ArtifactSource
	open   Opener
	cache  *engineCache
}

// NewLoader creates a Loader. With cacheSize 0 every Load builds a fresh
// engine that is closed on release; otherwise up to cacheSize engines are
// kept and shared between requests.
func NewLoader(source ArtifactSource, open Opener, cacheSize int) *Loader {
	l := &Loader{source: source, open: open}
	if cacheSize > 0 {
		l.cache = newEngineCache(cacheSize)
	}
	return l
}

// Load returns an engine for the named model. The caller must call release
// once it is done with the engine.
func (l *Loader) Load(ctx context.Context, name string) (pipeline.Engine, func(), error) {
	m, err := Lookup(name)
	if err != nil {
		return nil, nil, err
	}

	if l.cache == nil {
		eng, err := l.build(ctx, m)
		if err != nil {
			return nil, nil, err
		}
		return eng, func() { closeEngine(m.Name, eng) }, nil
	}

	// The load is shared with other callers, so one caller hanging up must not cancel it.
	shared := context.WithoutCancel(ctx)
	return l.cache.acquire(m.Name, func() (pipeline.Engine, error) {
		return l.build(shared, m)
	})
}

func (l *Loader) build(ctx context.Context, m StyleModel) (pipeline.Engine, error) {
	start := time.Now()

	a, err := l.source.Ensure(ctx, m)
	if err != nil {
		if errors.Is(err, ErrProvisioning) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}

	eng, err := l.open(a)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load %s: %v", pipeline.ErrInference, m.Name, err)
	}

	log.Printf("Loaded model %s from %s in %s", m.Name, a.Weights, time.Since(start).Round(time.Millisecond))
	return eng, nil
}

// Stats reports engine cache counters. All zero when caching is disabled.
func (l *Loader) Stats() CacheStats {
	if l.cache == nil {
		return CacheStats{}
	}
	return l.cache.stats()
}

// Close drops all cached engines.
func (l *Loader) Close() {
	if l.cache != nil {
		l.cache.close()
	}
}
