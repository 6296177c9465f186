package models

import (
	"time"

	"github.com/google/uuid"
)

// DiagramSource records how a diagram was created.
type DiagramSource string

const (
	DiagramSourceAuto DiagramSource = "AUTO"
	DiagramSourceChat DiagramSource = "CHAT"
)

// Diagram is a persisted chart owned by a datasource and a user.
// Diagrams are listed by Position, then creation time.
type Diagram struct {
	ID           uuid.UUID      `json:"id"`
	DataSourceID uuid.UUID      `json:"datasource_id"`
	OwnerID      uuid.UUID      `json:"owner_id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	ChartType    ChartType      `json:"chart_type"`
	Source       DiagramSource  `json:"source_type"`
	SQLQuery     string         `json:"sql_query"`
	ChartData    ChartPayload   `json:"chart_data"`
	ChartConfig  map[string]any `json:"chart_config"`
	IsActive     bool           `json:"is_active"`
	Position     int            `json:"order"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Copy returns an unsaved duplicate placed right after d. Copies count as
// chat diagrams. An empty title appends " (Copia)".
func (d *Diagram) Copy(title string) *Diagram {
	if title == "" {
		title = d.Title + " (Copia)"
	}
	config := make(map[string]any, len(d.ChartConfig))
	for k, v := range d.ChartConfig {
		config[k] = v
	}
	data := ChartPayload{
		Labels:   append([]string(nil), d.ChartData.Labels...),
		Datasets: append([]ChartDataset(nil), d.ChartData.Datasets...),
	}
	return &Diagram{
		DataSourceID: d.DataSourceID,
		OwnerID:      d.OwnerID,
		Title:        title,
		Description:  d.Description,
		ChartType:    d.ChartType,
		Source:       DiagramSourceChat,
		SQLQuery:     d.SQLQuery,
		ChartData:    data,
		ChartConfig:  config,
		IsActive:     true,
		Position:     d.Position + 1,
	}
}
