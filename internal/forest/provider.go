package forest

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/text/language"

	"cliniccore/internal/logging"
	"cliniccore/pkg/domain"
)

// RecordSource supplies the rows a Provider builds forests from. The local
// store implements it.
type RecordSource interface {
	LocationRecords(ctx context.Context) ([]domain.LocationRecord, error)
	PatientCountsByLocation(ctx context.Context) (map[string]int, error)
}

// Provider is the single point of truth for "the current forest", memoized
// per requested locale. It is an explicitly constructed instance with a
// defined lifecycle, passed to consumers; there is no global accessor.
type Provider struct {
	src RecordSource
	log logging.Logger

	mu         sync.Mutex
	forests    map[string]*Forest // locale tag -> forest
	onReplaced func(*Forest)
}

// NewProvider builds a provider over the given record source.
func NewProvider(src RecordSource, log logging.Logger) *Provider {
	if log == nil {
		log = logging.Nop()
	}
	return &Provider{src: src, log: log, forests: make(map[string]*Forest)}
}

// SetOnReplaced registers the single listener notified whenever a cached
// forest is replaced by a rebuild. Patient-count-only refreshes mutate the
// cached forests in place and do not fire it. Passing nil clears it.
func (p *Provider) SetOnReplaced(fn func(*Forest)) {
	p.mu.Lock()
	p.onReplaced = fn
	p.mu.Unlock()
}

// GetForest returns the cached forest for the locale, building it from the
// record source on first request. Concurrent callers may race to build; the
// build is side-effect-free and the first stored result wins.
func (p *Provider) GetForest(ctx context.Context, locale language.Tag) (*Forest, error) {
	key := locale.String()
	p.mu.Lock()
	if f, ok := p.forests[key]; ok {
		p.mu.Unlock()
		return f, nil
	}
	p.mu.Unlock()

	records, err := p.src.LocationRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load location records: %w", err)
	}
	built := Build(records, locale, p.log)

	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.forests[key]; ok {
		return f, nil
	}
	p.forests[key] = built
	return built, nil
}

// Rebuild re-reads the record source and replaces every cached forest,
// notifying the on-replaced listener per replaced locale. Called after a
// sync that may have changed the location set itself. Returns without
// effect when nothing is cached.
func (p *Provider) Rebuild(ctx context.Context) error {
	p.mu.Lock()
	locales := make([]string, 0, len(p.forests))
	for key := range p.forests {
		locales = append(locales, key)
	}
	p.mu.Unlock()
	if len(locales) == 0 {
		return nil
	}

	records, err := p.src.LocationRecords(ctx)
	if err != nil {
		return fmt.Errorf("load location records: %w", err)
	}
	for _, key := range locales {
		tag, err := language.Parse(key)
		if err != nil {
			tag = language.Und
		}
		built := Build(records, tag, p.log)
		p.mu.Lock()
		p.forests[key] = built
		fn := p.onReplaced
		p.mu.Unlock()
		if fn != nil {
			fn(built)
		}
	}
	return nil
}

// UpdatePatientCounts re-reads per-location patient counts and patches
// every cached forest in place. No structural rebuild, no listener
// notification; Location identities are preserved.
func (p *Provider) UpdatePatientCounts(ctx context.Context) error {
	counts, err := p.src.PatientCountsByLocation(ctx)
	if err != nil {
		return fmt.Errorf("load patient counts: %w", err)
	}
	p.mu.Lock()
	forests := make([]*Forest, 0, len(p.forests))
	for _, f := range p.forests {
		forests = append(forests, f)
	}
	p.mu.Unlock()
	for _, f := range forests {
		f.UpdatePatientCounts(counts)
	}
	return nil
}

// Dispose drops all cached forests and the listener. Used on logout and
// data reset.
func (p *Provider) Dispose() {
	p.mu.Lock()
	p.forests = make(map[string]*Forest)
	p.onReplaced = nil
	p.mu.Unlock()
}
