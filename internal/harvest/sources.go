package harvest

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/pypi-harvest/internal/pypi"
	"github.com/JakeFAU/pypi-harvest/internal/record"
)

// CandidateSource yields the names a run should consider.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]string, error)
}

// Lister returns the full registry listing.
type Lister interface {
	ListAllPackageNames(ctx context.Context) ([]pypi.Project, error)
}

// ListingSource uses every project in the registry listing.
type ListingSource struct {
	Lister Lister
}

// Candidates implements CandidateSource.
func (s ListingSource) Candidates(ctx context.Context) ([]string, error) {
	projects, err := s.Lister.ListAllPackageNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	names := make([]string, 0, len(projects))
	for _, p := range projects {
		names = append(names, p.Name)
	}
	return names, nil
}

// RecentSearcher returns packages released within a window.
type RecentSearcher interface {
	NewPackagesSince(ctx context.Context, window time.Duration, now time.Time) ([]record.Raw, error)
}

// RecentSource uses packages released within Window of Now.
type RecentSource struct {
	Searcher RecentSearcher
	Window   time.Duration
	Now      func() time.Time
}

// Candidates implements CandidateSource. Names keep search order without repeats.
func (s RecentSource) Candidates(ctx context.Context) ([]string, error) {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	results, err := s.Searcher.NewPackagesSince(ctx, s.Window, now)
	if err != nil {
		return nil, fmt.Errorf("search recent packages: %w", err)
	}
	seen := make(map[string]struct{}, len(results))
	names := make([]string, 0, len(results))
	for _, r := range results {
		name := r.String("name")
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names, nil
}
