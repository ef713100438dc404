// Package registry stores pattern definitions and their compiled regular
// expressions.
//
// The registry is read-mostly. Readers load an immutable snapshot of the
// definition map through an atomic pointer and never block on writers.
// Register and Deactivate serialize on a single mutex that is held only while
// a new snapshot is built, never while a regex compiles.
//
// Compiled expressions are cached per identity and built lazily on first use.
// Concurrent first lookups of the same identity share one compilation.
package registry

import (
	"cmp"
	"regexp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/patternd/pkg/pattern"
)

// entry is an immutable registered definition plus its parsed version.
type entry struct {
	def     pattern.Definition
	version *semver.Version
}

// snapshot is never mutated after it is published.
type snapshot struct {
	byKey    map[pattern.Key]*entry
	byDomain map[string][]*entry
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byKey:    map[pattern.Key]*entry{},
		byDomain: map[string][]*entry{},
	}
}

// with returns a copy of s with e inserted or replaced.
func (s *snapshot) with(e *entry) *snapshot {
	key := e.def.Key()
	next := &snapshot{
		byKey:    make(map[pattern.Key]*entry, len(s.byKey)+1),
		byDomain: make(map[string][]*entry, len(s.byDomain)+1),
	}
	for k, v := range s.byKey {
		next.byKey[k] = v
	}
	for d, entries := range s.byDomain {
		next.byDomain[d] = entries
	}
	next.byKey[key] = e

	domain := slices.Clone(s.byDomain[key.Domain])
	if i := slices.IndexFunc(domain, func(x *entry) bool { return x.def.Key() == key }); i >= 0 {
		domain[i] = e
	} else {
		domain = append(domain, e)
	}
	next.byDomain[key.Domain] = domain
	return next
}

// latestActive returns the highest active version of (domain, name).
func (s *snapshot) latestActive(domain, name string) *entry {
	var best *entry
	for _, e := range s.byDomain[domain] {
		if e.def.Name != name || !e.def.Active() {
			continue
		}
		if best == nil || e.version.GreaterThan(best.version) {
			best = e
		}
	}
	return best
}

func (s *snapshot) counts() (active, inactive int) {
	for _, e := range s.byKey {
		if e.def.Active() {
			active++
		} else {
			inactive++
		}
	}
	return active, inactive
}

// Registry is a concurrency-safe store of pattern definitions.
// The zero value is not usable; construct with New.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]

	cacheMu  sync.RWMutex
	cache    map[pattern.Key]*regexp.Regexp
	compiles singleflight.Group

	limits  pattern.Limits
	logger  *zap.Logger
	metrics *Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLimits overrides the regex complexity limits applied at registration.
func WithLimits(limits pattern.Limits) Option {
	return func(r *Registry) {
		r.limits = limits
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		cache:  map[pattern.Key]*regexp.Regexp{},
		limits: pattern.DefaultLimits(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.snap.Store(emptySnapshot())
	r.metrics.setPatterns(0, 0)
	return r
}

// Register validates and stores def. The regex is validated but not
// compiled. An empty ID is replaced by pattern.DeriveID(def.Key()).
func (r *Registry) Register(def pattern.Definition) error {
	d := def.Clone()
	key := d.Key()
	if d.ID == "" {
		d.ID = pattern.DeriveID(key)
	}

	if err := d.Validate(r.limits); err != nil {
		return pattern.NewError("register", key, pattern.ErrInvalidPattern, err)
	}
	version, err := semver.StrictNewVersion(d.Version)
	if err != nil {
		return pattern.NewError("register", key, pattern.ErrInvalidPattern, err)
	}

	r.mu.Lock()
	current := r.snap.Load()
	if _, exists := current.byKey[key]; exists {
		r.mu.Unlock()
		return pattern.NewError("register", key, pattern.ErrDuplicatePattern, nil)
	}
	next := current.with(&entry{def: d, version: version})
	r.snap.Store(next)
	r.mu.Unlock()

	r.metrics.setPatterns(next.counts())
	r.logger.Debug("pattern registered",
		zap.String("domain", key.Domain),
		zap.String("pattern", key.Name),
		zap.String("version", key.Version),
		zap.Bool("active", d.Active()),
	)
	return nil
}

// Deactivate marks a definition inactive. Deactivating an inactive
// definition is a no-op. The compiled cache entry is evicted lazily by the
// next Compiled lookup so in-flight matchers keep their expression.
func (r *Registry) Deactivate(domain, name, version string) error {
	key := pattern.Key{Domain: domain, Name: name, Version: version}

	r.mu.Lock()
	current := r.snap.Load()
	e, ok := current.byKey[key]
	if !ok {
		r.mu.Unlock()
		return pattern.NewError("deactivate", key, pattern.ErrPatternNotFound, nil)
	}
	if !e.def.Active() {
		r.mu.Unlock()
		return nil
	}
	d := e.def.Clone()
	d.Disabled = true
	next := current.with(&entry{def: d, version: e.version})
	r.snap.Store(next)
	r.mu.Unlock()

	r.metrics.setPatterns(next.counts())
	r.logger.Info("pattern deactivated",
		zap.String("domain", domain),
		zap.String("pattern", name),
		zap.String("version", version),
	)
	return nil
}

// GetPatterns returns the active definitions of the requested domains,
// restricted to category unless it is empty. Only the highest active
// version of each (domain, name) is returned. Results are ordered by
// descending priority, then name, domain, and version. Unknown domains
// contribute nothing.
func (r *Registry) GetPatterns(domains []string, category pattern.Category) []pattern.Definition {
	s := r.snap.Load()

	var out []pattern.Definition
	seen := make(map[string]struct{}, len(domains))
	for _, domain := range domains {
		if _, dup := seen[domain]; dup {
			continue
		}
		seen[domain] = struct{}{}

		latest := map[string]*entry{}
		for _, e := range s.byDomain[domain] {
			if !e.def.Active() {
				continue
			}
			if category != "" && e.def.Category != category {
				continue
			}
			if cur, ok := latest[e.def.Name]; !ok || e.version.GreaterThan(cur.version) {
				latest[e.def.Name] = e
			}
		}
		for _, e := range latest {
			out = append(out, e.def.Clone())
		}
	}

	SortDefinitions(out)
	return out
}

// SortDefinitions orders definitions by descending priority, then ascending
// name, domain, and version.
func SortDefinitions(defs []pattern.Definition) {
	slices.SortFunc(defs, func(a, b pattern.Definition) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Domain, b.Domain); c != 0 {
			return c
		}
		return compareVersions(a.Version, b.Version)
	})
}

func compareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return cmp.Compare(a, b)
	}
	return va.Compare(vb)
}

// Get returns the definition registered under key, active or not.
func (r *Registry) Get(key pattern.Key) (pattern.Definition, error) {
	e, ok := r.snap.Load().byKey[key]
	if !ok {
		return pattern.Definition{}, pattern.NewError("get", key, pattern.ErrPatternNotFound, nil)
	}
	return e.def.Clone(), nil
}

// Latest returns the highest active version of (domain, name).
func (r *Registry) Latest(domain, name string) (pattern.Definition, error) {
	e := r.snap.Load().latestActive(domain, name)
	if e == nil {
		return pattern.Definition{}, pattern.NewError("latest", pattern.Key{Domain: domain, Name: name}, pattern.ErrPatternNotFound, nil)
	}
	return e.def.Clone(), nil
}

// Versions returns every registered version of (domain, name), active or
// not, in ascending semantic version order.
func (r *Registry) Versions(domain, name string) []pattern.Definition {
	s := r.snap.Load()
	var matched []*entry
	for _, e := range s.byDomain[domain] {
		if e.def.Name == name {
			matched = append(matched, e)
		}
	}
	slices.SortFunc(matched, func(a, b *entry) int { return a.version.Compare(b.version) })

	out := make([]pattern.Definition, 0, len(matched))
	for _, e := range matched {
		out = append(out, e.def.Clone())
	}
	return out
}

// All returns every registered definition including inactive ones, ordered
// by domain, name, and version.
func (r *Registry) All() []pattern.Definition {
	s := r.snap.Load()
	out := make([]pattern.Definition, 0, len(s.byKey))
	for _, e := range s.byKey {
		out = append(out, e.def.Clone())
	}
	slices.SortFunc(out, func(a, b pattern.Definition) int {
		if c := cmp.Compare(a.Domain, b.Domain); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return compareVersions(a.Version, b.Version)
	})
	return out
}

// Domains returns the sorted set of domains with at least one definition.
func (r *Registry) Domains() []string {
	s := r.snap.Load()
	out := make([]string, 0, len(s.byDomain))
	for d := range s.byDomain {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	return len(r.snap.Load().byKey)
}
