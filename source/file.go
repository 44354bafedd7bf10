package source

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/generic"
)

// File reads usage and supply from a YAML document at any afs location
// (local path, file://, mem://). The document is re-read on every fetch so
// an external export can replace it between ticks.
//
//	supply:
//	  - {year: 2025, quarter: 4, total: 100000, remaining: 80000}
//	groups:
//	  - id: komacek-prj
//	    leader: diemer
//	    storage: 5.02 TB
//	    members:
//	      - {user: diemer, compute: 1234.5, storage: 120 GB}
type File struct {
	location string
	fs       afs.Service
}

var _ allocation.Source = (*File)(nil)

type usageDocument struct {
	Supply []supplyEntry `yaml:"supply"`
	Groups []groupEntry  `yaml:"groups"`
}

type supplyEntry struct {
	Year      int              `yaml:"year"`
	Quarter   int              `yaml:"quarter"`
	Total     decimal.Decimal  `yaml:"total"`
	Remaining *decimal.Decimal `yaml:"remaining"` // defaults to total
}

type groupEntry struct {
	ID      string        `yaml:"id"`
	Leader  string        `yaml:"leader"`
	Storage string        `yaml:"storage"`
	Members []memberEntry `yaml:"members"`
}

type memberEntry struct {
	User    string          `yaml:"user"`
	Compute decimal.Decimal `yaml:"compute"`
	Storage string          `yaml:"storage"`
}

// NewFile creates a source reading from location.
func NewFile(location string) *File {
	return &File{
		location: url.Normalize(location, file.Scheme),
		fs:       afs.New(),
	}
}

// Location returns the normalized document URL.
func (f *File) Location() string { return f.location }

func (f *File) load(ctx context.Context) (*usageDocument, error) {
	data, err := f.fs.DownloadWithURL(ctx, f.location)
	if err != nil {
		return nil, generic.NewDataUnavailable("usage file", err)
	}
	var doc usageDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, generic.NewDataUnavailable("usage file", fmt.Errorf("failed to parse %s: %w", f.location, err))
	}
	return &doc, nil
}

func (f *File) FetchGroupUsage(ctx context.Context) ([]allocation.GroupUsage, error) {
	doc, err := f.load(ctx)
	if err != nil {
		return nil, err
	}

	groups := make([]allocation.GroupUsage, 0, len(doc.Groups))
	for _, g := range doc.Groups {
		if g.ID == "" {
			return nil, generic.NewDataUnavailable("usage file", fmt.Errorf("group without id"))
		}
		storage, err := ParseSize(g.Storage)
		if err != nil {
			return nil, generic.NewDataUnavailable("usage file", fmt.Errorf("group %s: %w", g.ID, err))
		}
		gu := allocation.GroupUsage{ID: g.ID, Leader: g.Leader, Storage: storage}
		for _, m := range g.Members {
			if m.Compute.IsNegative() {
				return nil, generic.NewDataUnavailable("usage file", fmt.Errorf("group %s: negative compute for %s", g.ID, m.User))
			}
			ms, err := ParseSize(m.Storage)
			if err != nil {
				return nil, generic.NewDataUnavailable("usage file", fmt.Errorf("group %s, user %s: %w", g.ID, m.User, err))
			}
			gu.Members = append(gu.Members, allocation.MemberUsage{
				UserID:  m.User,
				Compute: generic.NewAmountFromDecimal(m.Compute, generic.UnitSU),
				Storage: ms,
			})
		}
		groups = append(groups, gu)
	}
	return groups, nil
}

func (f *File) FetchQuarterSupply(ctx context.Context, q allocation.QuarterKey) (allocation.Supply, error) {
	doc, err := f.load(ctx)
	if err != nil {
		return allocation.Supply{}, err
	}
	for _, s := range doc.Supply {
		if s.Year != q.Year || s.Quarter != q.QuarterOfYear {
			continue
		}
		remaining := s.Total
		if s.Remaining != nil {
			remaining = *s.Remaining
		}
		if s.Total.IsNegative() || remaining.IsNegative() {
			return allocation.Supply{}, generic.NewDataUnavailable("usage file", fmt.Errorf("negative supply for %s", q))
		}
		return allocation.Supply{
			Total:     generic.NewAmountFromDecimal(s.Total, generic.UnitSU),
			Remaining: generic.NewAmountFromDecimal(remaining, generic.UnitSU),
		}, nil
	}
	return allocation.Supply{}, generic.NewDataUnavailable("usage file", fmt.Errorf("no supply for %s", q))
}
