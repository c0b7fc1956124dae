// Package profile resolves presentation contexts from declarative capability
// tables so a generic SCP can be configured without code.
package profile

import (
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/caio-sobreiro/dicomscp/types"
)

// Profile is one capability table together with the peers it applies to.
// The peer fields are patterns where "*" matches any run of characters and
// "?" exactly one; empty means "*".
type Profile struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Notes       string `yaml:"notes,omitempty"`

	CalledAE                    string `yaml:"called_ae,omitempty"`
	CallingAE                   string `yaml:"calling_ae,omitempty"`
	RemoteImplementationUID     string `yaml:"remote_implementation_uid,omitempty"`
	RemoteImplementationVersion string `yaml:"remote_implementation_version,omitempty"`

	// TransferSyntaxes lists the supported transfer syntaxes in preference
	// order. The peer's order still decides which one is accepted.
	TransferSyntaxes []string `yaml:"transfer_syntaxes"`

	AbstractSyntaxes []string `yaml:"abstract_syntaxes"`

	// IncludeStorage adds every known storage SOP class.
	IncludeStorage bool `yaml:"include_storage,omitempty"`

	once     sync.Once
	abstract mapset.Set[string]
	transfer mapset.Set[string]
}

func (p *Profile) compile() {
	p.once.Do(func() {
		p.abstract = mapset.NewThreadUnsafeSet(p.AbstractSyntaxes...)
		if p.IncludeStorage {
			p.abstract.Append(types.StorageSOPClasses()...)
		}
		p.transfer = mapset.NewThreadUnsafeSet(p.TransferSyntaxes...)
	})
}

// SupportsAbstractSyntax reports whether uid is in the capability table.
func (p *Profile) SupportsAbstractSyntax(uid string) bool {
	p.compile()
	return p.abstract.Contains(uid)
}

// SupportsTransferSyntax reports whether ts may be accepted for abstract.
// Encapsulated syntaxes are only offered to image storage classes.
func (p *Profile) SupportsTransferSyntax(abstract, ts string) bool {
	p.compile()
	if !p.transfer.Contains(ts) {
		return false
	}
	if types.IsEncapsulated(ts) && !types.IsImageStorageSOPClass(abstract) {
		return false
	}
	return true
}

// Apply resolves every context of assoc that is still Proposed. Contexts
// already resolved by the caller are left alone.
func (p *Profile) Apply(assoc *types.Association) error {
	for _, pc := range assoc.Contexts() {
		if pc.Result != types.Proposed {
			continue
		}
		abstract := pc.AbstractSyntax
		err := pc.Negotiate(p.SupportsAbstractSyntax(abstract), func(ts string) bool {
			return p.SupportsTransferSyntax(abstract, ts)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func patternOrAny(pattern string) string {
	if pattern == "" {
		return "*"
	}
	return pattern
}

// match compares value against pattern. "/" is an ordinary AE title
// character, so "*" runs across it.
func match(pattern, value string) bool {
	p, v := []rune(patternOrAny(pattern)), []rune(value)
	pi, vi := 0, 0
	star, mark := -1, 0
	for vi < len(v) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == v[vi]):
			pi++
			vi++
		case pi < len(p) && p[pi] == '*':
			star, mark = pi, vi
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			vi = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

func wildcardWeight(pattern string) int {
	pattern = patternOrAny(pattern)
	switch {
	case pattern == "*":
		return 2
	case strings.ContainsAny(pattern, "*?"):
		return 1
	}
	return 0
}

// Matches reports whether the profile applies to the peer of assoc. The
// implementation fields are only compared when matchImplementation is set.
func (p *Profile) Matches(assoc *types.Association, matchImplementation bool) bool {
	if !match(p.CalledAE, assoc.CalledAETitle) || !match(p.CallingAE, assoc.CallingAETitle) {
		return false
	}
	if matchImplementation {
		return match(p.RemoteImplementationUID, assoc.RemoteImplementationUID) &&
			match(p.RemoteImplementationVersion, assoc.RemoteImplementationVersion)
	}
	return true
}

// Weight scores how generic the peer fields are: 2 for a bare "*", 1 for any
// other pattern. Among matching profiles the lowest weight wins.
func (p *Profile) Weight() int {
	w := 0
	for _, f := range []string{p.CalledAE, p.CallingAE, p.RemoteImplementationUID, p.RemoteImplementationVersion} {
		w += wildcardWeight(f)
	}
	return w
}

// GenericStorage accepts Verification and every storage SOP class with the
// common lossless transfer syntaxes.
func GenericStorage() *Profile {
	return &Profile{
		Name:        "Generic Storage",
		Description: "Verification and all storage SOP classes",
		TransferSyntaxes: []string{
			types.JPEG2000Lossless,
			types.JPEGLosslessSV1,
			types.RLELossless,
			types.ExplicitVRLittleEndian,
			types.ImplicitVRLittleEndian,
		},
		AbstractSyntaxes: []string{types.VerificationSOPClass},
		IncludeStorage:   true,
	}
}
