// Package models contains domain types for ekaya-bi.
package models

import (
	"time"

	"github.com/google/uuid"
)

// DataSourceKind distinguishes imported datasets from live connections.
type DataSourceKind string

const (
	// DataSourceFile is a dataset imported into its own warehouse schema.
	DataSourceFile DataSourceKind = "FILE"
	// DataSourceLive is a live connection to an external database.
	DataSourceLive DataSourceKind = "LIVE"
)

// IsValid reports whether k is a known kind.
func (k DataSourceKind) IsValid() bool {
	return k == DataSourceFile || k == DataSourceLive
}

// DataSource is a named handle to a relational target owned by one user.
type DataSource struct {
	ID      uuid.UUID      `json:"id"`
	OwnerID uuid.UUID      `json:"owner_id"`
	Name    string         `json:"name"`
	Kind    DataSourceKind `json:"kind"`
	// InternalSchema and InternalTable are set for FILE datasets once imported.
	InternalSchema string    `json:"internal_schema,omitempty"`
	InternalTable  string    `json:"internal_table,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsInternal reports whether the datasource lives in the warehouse.
func (d *DataSource) IsInternal() bool {
	return d.Kind == DataSourceFile
}

// ExternalConnection is the explicit connection record of a LIVE datasource.
// The password is sealed at rest; Password is only populated after the
// service layer opens it.
type ExternalConnection struct {
	ID             uuid.UUID `json:"id"`
	DataSourceID   uuid.UUID `json:"datasource_id"`
	DBType         string    `json:"db_type"`
	Host           string    `json:"host"`
	Port           int       `json:"port"`
	Database       string    `json:"database"`
	Username       string    `json:"username"`
	Schema         string    `json:"schema,omitempty"`
	SSLMode        string    `json:"ssl_mode,omitempty"`
	SealedPassword string    `json:"-"`
	Password       string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}
