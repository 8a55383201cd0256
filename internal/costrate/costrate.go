// Package costrate resolves the USD hourly rate of each predefined resource
// type on a project. A project freezes the rates it was created with; only
// resource types it has never used pick up the current administrator rate.
package costrate

import (
	"context"
	"errors"
	"fmt"
)

var ErrUnknownResourceType = errors.New("cost rate not found for resource type")

// Lookup returns the current rate of a resource type.
type Lookup interface {
	CostRate(ctx context.Context, resourceType string) (float64, bool, error)
}

// Snapshot maps resource types to the rate frozen on a project.
type Snapshot map[string]float64

// Resolve returns the rates for types. A type present in prior keeps its
// rate, including a frozen rate of 0. Every other type is looked up; an
// unknown type fails with ErrUnknownResourceType.
func Resolve(ctx context.Context, lookup Lookup, prior Snapshot, types []string) (Snapshot, error) {
	resolved := make(Snapshot, len(types))
	for _, rt := range types {
		if _, done := resolved[rt]; done {
			continue
		}
		if rate, ok := prior[rt]; ok {
			resolved[rt] = rate
			continue
		}

		rate, ok, err := lookup.CostRate(ctx, rt)
		if err != nil {
			return nil, fmt.Errorf("failed to look up cost rate for %q: %w", rt, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownResourceType, rt)
		}
		resolved[rt] = rate
	}
	return resolved, nil
}

// Table is a Lookup over a fixed map.
type Table map[string]float64

func (t Table) CostRate(_ context.Context, resourceType string) (float64, bool, error) {
	rate, ok := t[resourceType]
	return rate, ok, nil
}
