// Package registry maps estimator kinds and operator-set versions to the
// converter procedures that lower them into graph nodes.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/zerfoo/zskl/pkg/estimator"
)

var (
	// ErrUnsupportedEstimator is returned when no converter handles a kind
	// at the requested opset.
	ErrUnsupportedEstimator = errors.New("unsupported estimator")

	// ErrDuplicateRegistration is returned when a registration overlaps an
	// existing version range for the same kind.
	ErrDuplicateRegistration = errors.New("duplicate converter registration")
)

// Converter lowers est into the graph owned by ctx. inputs are the names of
// the tensors the estimator reads; the returned names are its outputs:
// [variable] for regressors, [label, probabilities] for classifiers.
type Converter func(ctx *ConversionContext, est estimator.Estimator, inputs []string) ([]string, error)

// VersionRange is an inclusive opset range. Max == 0 leaves it open ended.
type VersionRange struct {
	Min int64
	Max int64
}

// From returns the open ended range starting at v.
func From(v int64) VersionRange { return VersionRange{Min: v} }

// Contains reports whether v lies in r.
func (r VersionRange) Contains(v int64) bool {
	return v >= r.Min && (r.Max == 0 || v <= r.Max)
}

// Overlaps reports whether r and o share at least one version.
func (r VersionRange) Overlaps(o VersionRange) bool {
	rHigh, oHigh := r.Max, o.Max
	if rHigh != 0 && rHigh < o.Min {
		return false
	}
	if oHigh != 0 && oHigh < r.Min {
		return false
	}
	return true
}

// Width returns the number of versions covered, or -1 when open ended.
func (r VersionRange) Width() int64 {
	if r.Max == 0 {
		return -1
	}
	return r.Max - r.Min + 1
}

// narrower reports whether r is strictly more specific than o.
func (r VersionRange) narrower(o VersionRange) bool {
	switch {
	case r.Max == 0 && o.Max == 0:
		return false
	case o.Max == 0:
		return true
	case r.Max == 0:
		return false
	}
	return r.Width() < o.Width()
}

func (r VersionRange) String() string {
	if r.Max == 0 {
		return "[" + strconv.FormatInt(r.Min, 10) + ", open)"
	}
	return fmt.Sprintf("[%d, %d]", r.Min, r.Max)
}

// DuplicateRegistrationError reports an overlapping registration.
type DuplicateRegistrationError struct {
	Kind     string
	Range    VersionRange
	Existing VersionRange
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("converter for %q at %s overlaps registered range %s", e.Kind, e.Range, e.Existing)
}

func (e *DuplicateRegistrationError) Unwrap() error { return ErrDuplicateRegistration }

// UnsupportedEstimatorError names the estimator kind that could not be
// resolved and, for nested estimators, its position inside the composite.
type UnsupportedEstimatorError struct {
	Kind        string
	Path        string
	TargetOpset int64
}

func (e *UnsupportedEstimatorError) Error() string {
	msg := fmt.Sprintf("no converter registered for estimator kind %q at opset %d", e.Kind, e.TargetOpset)
	if e.Path != "" {
		msg += " (at " + e.Path + ")"
	}
	return msg
}

func (e *UnsupportedEstimatorError) Unwrap() error { return ErrUnsupportedEstimator }

type entry struct {
	rng  VersionRange
	conv Converter
}

// Registry holds converters by kind. Lookups are safe for concurrent use;
// registration is expected to finish before conversions start.
type Registry struct {
	mu      sync.RWMutex
	entries map[string][]entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string][]entry)}
}

// Register adds conv for kind over rng.
func (r *Registry) Register(kind string, rng VersionRange, conv Converter) error {
	if err := checkRange(kind, rng, conv); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries[kind] {
		if e.rng.Overlaps(rng) {
			return &DuplicateRegistrationError{Kind: kind, Range: rng, Existing: e.rng}
		}
	}
	r.entries[kind] = append(r.entries[kind], entry{rng: rng, conv: conv})
	return nil
}

// Override registers conv for kind over rng, dropping every overlapping
// registration first.
func (r *Registry) Override(kind string, rng VersionRange, conv Converter) error {
	if err := checkRange(kind, rng, conv); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := slices.DeleteFunc(r.entries[kind], func(e entry) bool { return e.rng.Overlaps(rng) })
	r.entries[kind] = append(kept, entry{rng: rng, conv: conv})
	return nil
}

func checkRange(kind string, rng VersionRange, conv Converter) error {
	if kind == "" {
		return fmt.Errorf("converter registration without a kind")
	}
	if conv == nil {
		return fmt.Errorf("nil converter for %q", kind)
	}
	if rng.Min < 1 || (rng.Max != 0 && rng.Max < rng.Min) {
		return fmt.Errorf("invalid version range %s for %q", rng, kind)
	}
	return nil
}

// Resolve returns the converter for kind at target. Among matching ranges
// the narrowest wins, then the one starting at the highest version.
func (r *Registry) Resolve(kind string, target int64) (Converter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *entry
	for i := range r.entries[kind] {
		e := &r.entries[kind][i]
		if !e.rng.Contains(target) {
			continue
		}
		if best == nil || e.rng.narrower(best.rng) ||
			(!best.rng.narrower(e.rng) && e.rng.Min > best.rng.Min) {
			best = e
		}
	}
	if best == nil {
		return nil, &UnsupportedEstimatorError{Kind: kind, TargetOpset: target}
	}
	return best.conv, nil
}

// Supports reports whether kind resolves at target.
func (r *Registry) Supports(kind string, target int64) bool {
	_, err := r.Resolve(kind, target)
	return err == nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.entries))
	for k, es := range r.entries {
		if len(es) > 0 {
			kinds = append(kinds, k)
		}
	}
	sort.Strings(kinds)
	return kinds
}

// Ranges returns the registered ranges for kind ordered by Min.
func (r *Registry) Ranges(kind string) []VersionRange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]VersionRange, 0, len(r.entries[kind]))
	for _, e := range r.entries[kind] {
		out = append(out, e.rng)
	}
	slices.SortFunc(out, func(a, b VersionRange) int { return int(a.Min - b.Min) })
	return out
}
