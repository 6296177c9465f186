package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
)

// SchemaView is the catalog of a datasource as the web layer shows it.
type SchemaView struct {
	DataSourceID uuid.UUID                       `json:"datasource_id"`
	Schema       *datasource.SchemaDescription   `json:"schema"`
	ForeignKeys  []datasource.ForeignKeyMetadata `json:"foreign_keys"`
}

// SchemaService introspects the database a datasource resolves to.
type SchemaService interface {
	// Describe lists tables, columns and foreign keys. Row counts are exact
	// and only computed when withRowCounts is set.
	Describe(ctx context.Context, dataSourceID uuid.UUID, override *datasource.ConnectionDescriptor, withRowCounts bool) (*SchemaView, error)
}

type schemaService struct {
	resolver  Resolver
	connector datasource.Connector
	logger    *zap.Logger
}

func NewSchemaService(resolver Resolver, connector datasource.Connector, logger *zap.Logger) SchemaService {
	return &schemaService{resolver: resolver, connector: connector, logger: logger.Named("schema")}
}

var _ SchemaService = (*schemaService)(nil)

func (s *schemaService) Describe(ctx context.Context, dataSourceID uuid.UUID, override *datasource.ConnectionDescriptor, withRowCounts bool) (*SchemaView, error) {
	resolved, err := s.resolver.Resolve(ctx, dataSourceID, override)
	if err != nil {
		return nil, err
	}

	session, err := s.connector.Open(ctx, resolved.Descriptor)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	schema, err := session.DescribeSchema(ctx, resolved.Descriptor.Schema, withRowCounts)
	if err != nil {
		return nil, err
	}
	fks, err := session.ForeignKeys(ctx, resolved.Descriptor.Schema)
	if err != nil {
		return nil, err
	}
	if fks == nil {
		fks = []datasource.ForeignKeyMetadata{}
	}

	s.logger.Debug("Described schema",
		zap.String("datasource_id", dataSourceID.String()),
		zap.String("schema", resolved.Descriptor.Schema),
		zap.Int("tables", len(schema.Tables)))

	return &SchemaView{DataSourceID: dataSourceID, Schema: schema, ForeignKeys: fks}, nil
}
