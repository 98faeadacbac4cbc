package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
	pkgkafka "DeskCast/pkg/kafka"
)

// DatasetReloadHandler reloads the read model when a run-completed event arrives.
type DatasetReloadHandler struct {
	topic   string
	dataset *Dataset
	metrics domrepo.Metrics
}

func NewDatasetReloadHandler(topic string, dataset *Dataset, metrics domrepo.Metrics) *DatasetReloadHandler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &DatasetReloadHandler{topic: topic, dataset: dataset, metrics: metrics}
}

func (h *DatasetReloadHandler) Topic() string { return h.topic }

func (h *DatasetReloadHandler) Handle(ctx context.Context, b []byte) error {
	var ev models.RunEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode run event: %w", err)
	}
	if ev.RunID == "" {
		ev.RunID = pkgkafka.RunIDFromContext(ctx)
	}
	if !ev.FinishedAt.IsZero() {
		// Time from run completion to the reader seeing it.
		h.metrics.RecordLatency("run_to_reload_seconds", time.Since(ev.FinishedAt).Seconds())
	}
	return h.dataset.Reload(ctx, ev.RunID)
}

var _ pkgkafka.MessageHandler = (*DatasetReloadHandler)(nil)
