/*
Package source provides allocation.Source implementations.

PURPOSE:
  The engine asks a Source for cumulative group usage and for a quarter's
  compute supply. The accounting system itself is outside this module;
  these sources serve that data from memory (tests, demos) or from a YAML
  usage file produced by the site's accounting export.

SEE ALSO:
  - allocation/events.go: Source interface
  - source/file.go: YAML file source
  - source/size.go: "5.02 TB" style size parsing
*/
package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/generic"
)

// Static is an in-memory Source. It is safe for concurrent use.
type Static struct {
	mu     sync.RWMutex
	groups []allocation.GroupUsage
	supply map[quarterOfYear]allocation.Supply
	err    error
}

type quarterOfYear struct {
	year    int
	quarter int
}

var _ allocation.Source = (*Static)(nil)

// NewStatic creates a source serving the given groups.
func NewStatic(groups ...allocation.GroupUsage) *Static {
	return &Static{
		groups: groups,
		supply: make(map[quarterOfYear]allocation.Supply),
	}
}

// Update replaces the reported group usage.
func (s *Static) Update(groups []allocation.GroupUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = groups
}

// SetSupply sets the supply of a calendar quarter.
func (s *Static) SetSupply(year, quarter int, supply allocation.Supply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supply[quarterOfYear{year, quarter}] = supply
}

// Fail makes every fetch return err until called again with nil.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) FetchGroupUsage(_ context.Context) ([]allocation.GroupUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, generic.NewDataUnavailable("static usage", s.err)
	}
	out := make([]allocation.GroupUsage, len(s.groups))
	copy(out, s.groups)
	return out, nil
}

func (s *Static) FetchQuarterSupply(_ context.Context, q allocation.QuarterKey) (allocation.Supply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return allocation.Supply{}, generic.NewDataUnavailable("static supply", s.err)
	}
	supply, ok := s.supply[quarterOfYear{q.Year, q.QuarterOfYear}]
	if !ok {
		return allocation.Supply{}, generic.NewDataUnavailable("static supply", fmt.Errorf("no supply for %s", q))
	}
	return supply, nil
}
