package main

import (
	"context"

	"go.ngs.io/terraclimate-extract/internal/domain"
	"go.ngs.io/terraclimate-extract/internal/spatial"
)

// noIndex answers location lookups when the index cache is disabled.
type noIndex struct{}

func (noIndex) Load(context.Context) (*spatial.Index, error) {
	return nil, domain.ErrIndexNotFound
}
