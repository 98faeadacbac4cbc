package service

import (
	"context"

	"DeskCast/internal/domain/models"
)

// KPIProvider supplies the externally owned service-level figures.
// ModelMAPE is left for the caller to fill from the metrics artifact.
type KPIProvider interface {
	KPIs(ctx context.Context) (models.KPISummary, error)
}
