package registry

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/pkg/pattern"
)

// Compiled returns the compiled expression for def, compiling it on first
// use. The regex source is taken from the registered definition, not from
// def, so a caller-modified copy cannot poison the cache.
//
// Lookups of unknown or inactive identities fail and evict any cached entry.
// A superseded version (a higher active version of the same name exists)
// evicts its cache entry and is compiled without caching.
func (r *Registry) Compiled(def pattern.Definition) (*regexp.Regexp, error) {
	key := def.Key()
	s := r.snap.Load()

	e, ok := s.byKey[key]
	if !ok {
		r.evict(key, "unknown")
		return nil, pattern.NewError("compile", key, pattern.ErrPatternNotFound, nil)
	}
	if !e.def.Active() {
		r.evict(key, "inactive")
		return nil, pattern.NewError("compile", key, pattern.ErrPatternInactive, nil)
	}

	if latest := s.latestActive(key.Domain, key.Name); latest != e {
		r.evict(key, "superseded")
		re, err := regexp.Compile(e.def.Regex)
		r.metrics.compiled(err)
		if err != nil {
			return nil, pattern.NewError("compile", key, pattern.ErrInvalidPattern, err)
		}
		return re, nil
	}

	r.cacheMu.RLock()
	re, hit := r.cache[key]
	r.cacheMu.RUnlock()
	if hit {
		r.metrics.hit()
		return re, nil
	}
	r.metrics.miss()

	v, err, _ := r.compiles.Do(key.String(), func() (any, error) {
		r.cacheMu.RLock()
		cached, ok := r.cache[key]
		r.cacheMu.RUnlock()
		if ok {
			return cached, nil
		}

		compiled, err := regexp.Compile(e.def.Regex)
		r.metrics.compiled(err)
		if err != nil {
			return nil, err
		}

		r.cacheMu.Lock()
		r.cache[key] = compiled
		r.cacheMu.Unlock()

		r.logger.Debug("pattern compiled",
			zap.String("domain", key.Domain),
			zap.String("pattern", key.Name),
			zap.String("version", key.Version),
		)
		return compiled, nil
	})
	if err != nil {
		return nil, pattern.NewError("compile", key, pattern.ErrInvalidPattern, fmt.Errorf("compiling regex: %w", err))
	}
	return v.(*regexp.Regexp), nil
}

// CacheLen returns the number of cached compiled expressions.
func (r *Registry) CacheLen() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

func (r *Registry) evict(key pattern.Key, reason string) {
	r.cacheMu.Lock()
	_, ok := r.cache[key]
	delete(r.cache, key)
	r.cacheMu.Unlock()

	if ok {
		r.metrics.evicted(reason)
		r.logger.Debug("compiled pattern evicted",
			zap.String("pattern", key.String()),
			zap.String("reason", reason),
		)
	}
}
