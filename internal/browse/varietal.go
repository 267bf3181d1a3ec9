package browse

import (
	"context"
	"fmt"

	"github.com/ternarybob/kissaten/internal/apperr"
	"github.com/ternarybob/kissaten/internal/canon"
	"github.com/ternarybob/kissaten/internal/models"
)

// Varietals lists every canonical varietal name present in the warehouse,
// most-mentioned first, for the /varietals browse route.
func (s *Service) Varietals(ctx context.Context) ([]models.VarietalSummary, error) {
	counts, err := s.topVarietals(ctx, "1=1", nil, 1000)
	if err != nil {
		return nil, fmt.Errorf("listing varietals: %w", err)
	}

	out := make([]models.VarietalSummary, 0, len(counts))
	for _, c := range counts {
		out = append(out, models.VarietalSummary{
			Name:      c.Variety,
			Slug:      canon.Slugify(c.Variety),
			BeanCount: c.Count,
		})
	}
	return out, nil
}

// VarietalDetail resolves a case-insensitive varietal slug to its bean
// count and, when known, World Coffee Research descriptive metadata.
func (s *Service) VarietalDetail(ctx context.Context, slug string) (*models.VarietalDetail, error) {
	varietals, err := s.Varietals(ctx)
	if err != nil {
		return nil, err
	}

	var match *models.VarietalSummary
	for i := range varietals {
		if varietals[i].Slug == slug {
			match = &varietals[i]
			break
		}
	}
	if match == nil {
		return nil, apperr.NotFound(fmt.Sprintf("unknown varietal %q", slug))
	}

	detail := &models.VarietalDetail{Name: match.Name, Slug: match.Slug, BeanCount: match.BeanCount}

	meta, err := s.refs.VarietalMetadata(ctx, match.Name)
	if err != nil {
		return nil, fmt.Errorf("resolving varietal metadata: %w", err)
	}
	if meta != nil {
		detail.Description = meta.Description
		detail.Link = meta.Link
		detail.Species = meta.Species
	}
	return detail, nil
}
