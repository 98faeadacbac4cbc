package models

// ForecastQuery filters the read-side forecast listing.
type ForecastQuery struct {
	Category string `query:"category" validate:"omitempty,max=128"`
	EntityID *int64 `query:"entity_id" validate:"omitempty,gte=0"`
	Horizon  *int   `query:"horizon" validate:"omitempty,gte=0,lte=366"`
	Limit    int    `query:"limit" validate:"gte=0,lte=100000"`
}

// DatasetMetadata describes a dataset payload.
type DatasetMetadata struct {
	Description string `json:"description"`
	Count       int    `json:"count"`
	RunID       string `json:"run_id,omitempty"`
}

// DatasetResponse is the full or sampled forecast listing.
type DatasetResponse struct {
	Metadata DatasetMetadata `json:"metadata"`
	Data     []OutputRow     `json:"data"`
}

// StatusResponse reports whether the read side holds a dataset.
type StatusResponse struct {
	Status        string  `json:"status"`
	RecordsLoaded int     `json:"records_loaded"`
	ModelMAPE     float64 `json:"model_mape_pct"`
	LastDate      string  `json:"last_date"`
	ArtifactPath  string  `json:"artifact_path"`
}

// KPISummary is the dashboard headline block.
type KPISummary struct {
	SLACompliance float64 `json:"SLA_COMPLIANCE"`
	TTRAverage    float64 `json:"TTR_AVERAGE"`
	ModelMAPE     float64 `json:"MODEL_MAPE"`
}
