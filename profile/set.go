package profile

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/maypok86/otter/v2"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/caio-sobreiro/dicomscp/types"
)

const defaultCacheSize = 1024

// Set holds capability profiles and picks the one that applies to a peer.
// Lookups are cached per peer identity until the set changes.
type Set struct {
	mu                  sync.RWMutex
	profiles            []*Profile
	fallback            *Profile
	matchImplementation bool
	cache               *otter.Cache[string, *Profile]
}

// SetOption configures a Set.
type SetOption func(*Set)

// WithImplementationMatching also compares the remote implementation UID
// and version when matching profiles.
func WithImplementationMatching() SetOption {
	return func(s *Set) { s.matchImplementation = true }
}

// WithFallback replaces GenericStorage as the profile used when nothing matches.
func WithFallback(p *Profile) SetOption {
	return func(s *Set) { s.fallback = p }
}

// NewSet returns an empty set.
func NewSet(opts ...SetOption) (*Set, error) {
	cache, err := otter.New(&otter.Options[string, *Profile]{
		MaximumSize: defaultCacheSize,
	})
	if err != nil {
		return nil, oops.In("profile").Wrapf(err, "failed to create profile cache")
	}
	s := &Set{cache: cache, fallback: GenericStorage()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Add registers profiles and drops cached lookups.
func (s *Set) Add(profiles ...*Profile) {
	s.mu.Lock()
	s.profiles = append(s.profiles, profiles...)
	s.mu.Unlock()
	s.cache.InvalidateAll()
}

// Profiles returns the registered profiles in insertion order.
func (s *Set) Profiles() []*Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Profile, len(s.profiles))
	copy(out, s.profiles)
	return out
}

func (s *Set) cacheKey(assoc *types.Association) string {
	return strings.Join([]string{
		assoc.CalledAETitle,
		assoc.CallingAETitle,
		assoc.RemoteImplementationUID,
		assoc.RemoteImplementationVersion,
		strconv.FormatBool(s.matchImplementation),
	}, "\x00")
}

// Find returns the most specific matching profile, or the fallback.
func (s *Set) Find(ctx context.Context, assoc *types.Association) (*Profile, error) {
	p, err := s.cache.Get(ctx, s.cacheKey(assoc), otter.LoaderFunc[string, *Profile](func(context.Context, string) (*Profile, error) {
		return s.lookup(assoc), nil
	}))
	if err != nil {
		return nil, oops.In("profile").With("called_ae", assoc.CalledAETitle).Wrapf(err, "failed to resolve profile")
	}
	return p, nil
}

func (s *Set) lookup(assoc *types.Association) *Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *Profile
	for _, p := range s.profiles {
		if !p.Matches(assoc, s.matchImplementation) {
			continue
		}
		if best == nil || p.Weight() < best.Weight() {
			best = p
		}
	}
	if best == nil {
		return s.fallback
	}
	return best
}

// Apply resolves the proposed contexts of assoc with the matching profile.
func (s *Set) Apply(ctx context.Context, assoc *types.Association) (*Profile, error) {
	p, err := s.Find(ctx, assoc)
	if err != nil {
		return nil, err
	}
	if err := p.Apply(assoc); err != nil {
		return nil, oops.In("profile").With("profile", p.Name).Wrapf(err, "failed to apply profile")
	}
	return p, nil
}

// LoadFile reads one profile, or a YAML list of profiles, from path.
func LoadFile(path string) ([]*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.In("profile").With("path", path).Wrapf(err, "failed to read profile")
	}
	var list []*Profile
	if err := yaml.Unmarshal(data, &list); err == nil {
		return validate(path, list)
	}
	p := &Profile{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, oops.In("profile").With("path", path).Wrapf(err, "failed to parse profile")
	}
	return validate(path, []*Profile{p})
}

func validate(path string, list []*Profile) ([]*Profile, error) {
	for i, p := range list {
		if p == nil || p.Name == "" {
			return nil, oops.In("profile").With("path", path).With("index", i).Errorf("profile has no name")
		}
		if len(p.TransferSyntaxes) == 0 {
			return nil, oops.In("profile").With("path", path).With("profile", p.Name).Errorf("profile lists no transfer syntaxes")
		}
		if len(p.AbstractSyntaxes) == 0 && !p.IncludeStorage {
			return nil, oops.In("profile").With("path", path).With("profile", p.Name).Errorf("profile lists no abstract syntaxes")
		}
	}
	return list, nil
}

// LoadDir adds every *.yaml and *.yml file in dir to the set.
func (s *Set) LoadDir(dir string) error {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return oops.In("profile").With("dir", dir).Wrapf(err, "failed to list profiles")
		}
		files = append(files, matches...)
	}
	for _, f := range files {
		list, err := LoadFile(f)
		if err != nil {
			return err
		}
		s.Add(list...)
	}
	return nil
}
