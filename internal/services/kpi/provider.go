package kpi

import (
	"context"
	"fmt"

	"DeskCast/internal/domain/models"
	domsvc "DeskCast/internal/domain/service"
	"DeskCast/pkg/config"
)

// StaticProvider serves the service-level figures from configuration.
type StaticProvider struct {
	sla float64
	ttr float64
}

func NewStaticProvider(sla, ttr float64) *StaticProvider {
	return &StaticProvider{sla: sla, ttr: ttr}
}

func (p *StaticProvider) KPIs(context.Context) (models.KPISummary, error) {
	return models.KPISummary{SLACompliance: p.sla, TTRAverage: p.ttr}, nil
}

type kpiResponse struct {
	SLACompliance *float64 `json:"sla_compliance"`
	TTRAverage    *float64 `json:"ttr_average"`
}

// HTTPProvider reads the figures from a reporting endpoint, falling back to
// the static values for any field the endpoint omits.
type HTTPProvider struct {
	base     *HTTPServiceBase
	fallback *StaticProvider
}

func NewHTTPProvider(baseURL string, cfg *config.Config) *HTTPProvider {
	return &HTTPProvider{
		base:     NewHTTPServiceBase(baseURL, cfg.KPI.Timeout),
		fallback: NewStaticProvider(cfg.KPI.SLACompliance, cfg.KPI.TTRAverage),
	}
}

func (p *HTTPProvider) KPIs(ctx context.Context) (models.KPISummary, error) {
	out, _ := p.fallback.KPIs(ctx)
	var resp kpiResponse
	if err := p.base.GetJSONWithRetry(ctx, "/kpis", &resp, 3); err != nil {
		return out, fmt.Errorf("fetch kpis: %w", err)
	}
	if resp.SLACompliance != nil {
		out.SLACompliance = *resp.SLACompliance
	}
	if resp.TTRAverage != nil {
		out.TTRAverage = *resp.TTRAverage
	}
	return out, nil
}

// NewProvider picks the HTTP provider when kpi.url is set.
func NewProvider(cfg *config.Config) domsvc.KPIProvider {
	if cfg.KPI.URL != "" {
		return NewHTTPProvider(cfg.KPI.URL, cfg)
	}
	return NewStaticProvider(cfg.KPI.SLACompliance, cfg.KPI.TTRAverage)
}

var (
	_ domsvc.KPIProvider = (*StaticProvider)(nil)
	_ domsvc.KPIProvider = (*HTTPProvider)(nil)
)
