package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/config"
	"github.com/ekaya-inc/ekaya-bi/pkg/crypto"
	"github.com/ekaya-inc/ekaya-bi/pkg/logging"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
	"github.com/ekaya-inc/ekaya-bi/pkg/repositories"
	"github.com/ekaya-inc/ekaya-bi/pkg/sql"
)

// ResolvedDataSource is a datasource together with the descriptor of the
// database it lives in. Descriptor.Schema is the schema queries run against.
type ResolvedDataSource struct {
	DataSource *models.DataSource
	Descriptor datasource.ConnectionDescriptor
}

// Resolver turns a datasource ID into connection details.
type Resolver interface {
	Resolve(ctx context.Context, id uuid.UUID, override *datasource.ConnectionDescriptor) (*ResolvedDataSource, error)
}

// ExternalConnectionRequest is the body of "connect to external DB".
type ExternalConnectionRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	Schema   string `json:"schema"`
	SSLMode  string `json:"ssl_mode"`
}

// DataSourceService manages datasources and resolves their credentials.
type DataSourceService interface {
	Resolver

	// Create registers a new datasource of the owner in context.
	Create(ctx context.Context, name string, kind models.DataSourceKind) (*models.DataSource, error)

	Get(ctx context.Context, id uuid.UUID) (*models.DataSource, error)

	List(ctx context.Context) ([]*models.DataSource, error)

	// CreateExternalConnection verifies the connection, seals its password and
	// stores it as the explicit connection record of a LIVE datasource.
	CreateExternalConnection(ctx context.Context, id uuid.UUID, req ExternalConnectionRequest) (*models.ExternalConnection, error)

	// RecordImport stores the schema and main table produced by an import.
	RecordImport(ctx context.Context, id uuid.UUID, schema, mainTable string) error

	// Delete drops the dataset schema of FILE datasources and removes the
	// record; diagrams and connections cascade.
	Delete(ctx context.Context, id uuid.UUID) error
}

type dataSourceService struct {
	repo        repositories.DataSourceRepository
	connections repositories.ExternalConnectionRepository
	encryptor   *crypto.CredentialEncryptor
	connector   datasource.Connector
	warehouse   datasource.ConnectionDescriptor
	external    map[string]config.ExternalDatabaseConfig
	logger      *zap.Logger
}

// NewDataSourceService creates the datasource service. encryptor may be nil
// when CREDENTIALS_KEY is not configured; explicit connection records are
// then unavailable.
func NewDataSourceService(
	repo repositories.DataSourceRepository,
	connections repositories.ExternalConnectionRepository,
	encryptor *crypto.CredentialEncryptor,
	connector datasource.Connector,
	cfg *config.Config,
	logger *zap.Logger,
) DataSourceService {
	external := make(map[string]config.ExternalDatabaseConfig, len(cfg.ExternalDatabases))
	for name, ext := range cfg.ExternalDatabases {
		external[strings.ToLower(name)] = ext
	}
	return &dataSourceService{
		repo:        repo,
		connections: connections,
		encryptor:   encryptor,
		connector:   connector,
		warehouse:   WarehouseDescriptor(cfg.Warehouse),
		external:    external,
		logger:      logger.Named("datasources"),
	}
}

// WarehouseDescriptor converts the warehouse section to a descriptor.
func WarehouseDescriptor(w config.WarehouseConfig) datasource.ConnectionDescriptor {
	return datasource.ConnectionDescriptor{
		Host:     config.ResolveHostForDocker(w.Host),
		Port:     w.Port,
		Database: w.Database,
		User:     w.User,
		Password: w.Password,
		SSLMode:  w.SSLMode,
	}.WithDefaults()
}

// DatasetSchema is the private warehouse schema of a FILE datasource.
func DatasetSchema(id uuid.UUID) string {
	return "ds_" + strings.ReplaceAll(id.String(), "-", "")
}

func (s *dataSourceService) Create(ctx context.Context, name string, kind models.DataSourceKind) (*models.DataSource, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: datasource name is required", apperrors.ErrInvalidInput)
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: unknown datasource kind %q", apperrors.ErrInvalidInput, kind)
	}

	ds := &models.DataSource{Name: name, Kind: kind}
	if err := s.repo.Create(ctx, ds); err != nil {
		return nil, err
	}

	s.logger.Info("Created datasource",
		zap.String("id", ds.ID.String()),
		zap.String("name", name),
		zap.String("kind", string(kind)))
	return ds, nil
}

func (s *dataSourceService) Get(ctx context.Context, id uuid.UUID) (*models.DataSource, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *dataSourceService) List(ctx context.Context) ([]*models.DataSource, error) {
	return s.repo.List(ctx)
}

// Resolve applies the resolution order: FILE datasets live in the warehouse
// under their private schema; LIVE datasources use their connection record,
// then the external database configured under the datasource name. Override
// fields win over the resolved ones.
func (s *dataSourceService) Resolve(ctx context.Context, id uuid.UUID, override *datasource.ConnectionDescriptor) (*ResolvedDataSource, error) {
	ds, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var desc datasource.ConnectionDescriptor
	switch ds.Kind {
	case models.DataSourceFile:
		desc = s.warehouse
		desc.Schema = ds.InternalSchema
		if desc.Schema == "" {
			desc.Schema = DatasetSchema(ds.ID)
		}
	case models.DataSourceLive:
		desc, err = s.resolveLive(ctx, ds)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: datasource %s has unknown kind %q", apperrors.ErrInvalidInput, ds.ID, ds.Kind)
	}

	desc = desc.Merge(override).WithDefaults()
	return &ResolvedDataSource{DataSource: ds, Descriptor: desc}, nil
}

func (s *dataSourceService) resolveLive(ctx context.Context, ds *models.DataSource) (datasource.ConnectionDescriptor, error) {
	conn, err := s.connections.GetByDataSource(ctx, ds.ID)
	switch {
	case err == nil:
		return s.openConnection(conn)
	case !errors.Is(err, apperrors.ErrNotFound):
		return datasource.ConnectionDescriptor{}, err
	}

	if ext, ok := s.external[strings.ToLower(ds.Name)]; ok {
		return datasource.ConnectionDescriptor{
			Host:     config.ResolveHostForDocker(ext.Host),
			Port:     ext.Port,
			Database: ext.Database,
			User:     ext.User,
			Password: ext.Password(),
			Schema:   ext.Schema,
			SSLMode:  ext.SSLMode,
		}, nil
	}

	return datasource.ConnectionDescriptor{}, fmt.Errorf("%w: no credentials for datasource %q", apperrors.ErrNotFound, ds.Name)
}

func (s *dataSourceService) openConnection(conn *models.ExternalConnection) (datasource.ConnectionDescriptor, error) {
	if conn.SealedPassword != "" {
		if s.encryptor == nil {
			return datasource.ConnectionDescriptor{}, fmt.Errorf("%w: CREDENTIALS_KEY is not configured", apperrors.ErrCredentialsKeyMismatch)
		}
		if err := s.encryptor.OpenConnection(conn); err != nil {
			return datasource.ConnectionDescriptor{}, err
		}
	}
	return datasource.ConnectionDescriptor{
		Type:     conn.DBType,
		Host:     config.ResolveHostForDocker(conn.Host),
		Port:     conn.Port,
		Database: conn.Database,
		User:     conn.Username,
		Password: conn.Password,
		Schema:   conn.Schema,
		SSLMode:  conn.SSLMode,
	}, nil
}

func (s *dataSourceService) CreateExternalConnection(ctx context.Context, id uuid.UUID, req ExternalConnectionRequest) (*models.ExternalConnection, error) {
	if s.encryptor == nil {
		return nil, fmt.Errorf("%w: CREDENTIALS_KEY is not configured", apperrors.ErrInvalidInput)
	}
	ds, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ds.Kind != models.DataSourceLive {
		return nil, fmt.Errorf("%w: only LIVE datasources take a connection", apperrors.ErrInvalidInput)
	}

	desc := datasource.ConnectionDescriptor{
		Host:     req.Host,
		Port:     req.Port,
		Database: req.Database,
		User:     req.User,
		Password: req.Password,
		Schema:   req.Schema,
		SSLMode:  req.SSLMode,
	}.WithDefaults()
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}

	session, err := s.connector.Open(ctx, desc)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	if err := session.Ping(ctx); err != nil {
		return nil, err
	}

	conn := &models.ExternalConnection{
		DataSourceID: ds.ID,
		DBType:       desc.Driver(),
		Host:         desc.Host,
		Port:         desc.Port,
		Database:     desc.Database,
		Username:     desc.User,
		Schema:       desc.Schema,
		SSLMode:      desc.SSLMode,
		Password:     desc.Password,
	}
	if err := s.encryptor.SealConnection(conn); err != nil {
		return nil, err
	}
	if err := s.connections.Upsert(ctx, conn); err != nil {
		return nil, err
	}

	s.logger.Info("Stored external connection",
		zap.String("datasource_id", ds.ID.String()),
		zap.String("target", logging.SanitizeDescriptor(desc)))
	return conn, nil
}

func (s *dataSourceService) RecordImport(ctx context.Context, id uuid.UUID, schema, mainTable string) error {
	return s.repo.SetInternalTarget(ctx, id, schema, mainTable)
}

func (s *dataSourceService) Delete(ctx context.Context, id uuid.UUID) error {
	ds, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if ds.IsInternal() {
		schema := ds.InternalSchema
		if schema == "" {
			schema = DatasetSchema(ds.ID)
		}
		if err := s.dropSchema(ctx, schema); err != nil {
			return err
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Deleted datasource", zap.String("id", id.String()))
	return nil
}

func (s *dataSourceService) dropSchema(ctx context.Context, schema string) error {
	desc := s.warehouse
	desc.Schema = schema
	session, err := s.connector.Open(ctx, desc)
	if err != nil {
		return err
	}
	defer session.Close()

	return session.WithTx(ctx, func(ctx context.Context, tx datasource.Tx) error {
		stmt := "DROP SCHEMA IF EXISTS " + sql.QuoteIdent(schema) + " CASCADE"
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return apperrors.Execution(stmt, err)
		}
		return nil
	})
}

var _ DataSourceService = (*dataSourceService)(nil)
