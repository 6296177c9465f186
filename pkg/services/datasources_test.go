package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/config"
	"github.com/ekaya-inc/ekaya-bi/pkg/crypto"
	"github.com/ekaya-inc/ekaya-bi/pkg/models"
)

type memDataSourceRepo struct {
	sources map[uuid.UUID]*models.DataSource
	deleted []uuid.UUID
}

func (r *memDataSourceRepo) Create(ctx context.Context, ds *models.DataSource) error {
	ds.ID = uuid.New()
	r.sources[ds.ID] = ds
	return nil
}

func (r *memDataSourceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.DataSource, error) {
	ds, ok := r.sources[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return ds, nil
}

func (r *memDataSourceRepo) List(ctx context.Context) ([]*models.DataSource, error) {
	var out []*models.DataSource
	for _, ds := range r.sources {
		out = append(out, ds)
	}
	return out, nil
}

func (r *memDataSourceRepo) SetInternalTarget(ctx context.Context, id uuid.UUID, schema, table string) error {
	ds, ok := r.sources[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	ds.InternalSchema, ds.InternalTable = schema, table
	return nil
}

func (r *memDataSourceRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(r.sources, id)
	r.deleted = append(r.deleted, id)
	return nil
}

type memConnectionRepo struct {
	conns map[uuid.UUID]*models.ExternalConnection
	err   error
}

func (r *memConnectionRepo) Upsert(ctx context.Context, conn *models.ExternalConnection) error {
	c := *conn
	r.conns[conn.DataSourceID] = &c
	return nil
}

func (r *memConnectionRepo) GetByDataSource(ctx context.Context, id uuid.UUID) (*models.ExternalConnection, error) {
	if r.err != nil {
		return nil, r.err
	}
	c, ok := r.conns[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

type dataSourceFixture struct {
	service   DataSourceService
	repo      *memDataSourceRepo
	conns     *memConnectionRepo
	session   *stubSession
	connector *stubConnector
}

func newDataSourceFixture(t *testing.T, withKey bool) *dataSourceFixture {
	t.Helper()
	cfg := &config.Config{
		Warehouse: config.WarehouseConfig{Host: "warehouse.internal", Port: 5433, User: "wh", Password: "secret", Database: "warehouse", SSLMode: "disable"},
		ExternalDatabases: map[string]config.ExternalDatabaseConfig{
			"Tienda": {Host: "shop.internal", Port: 5432, User: "reader", Database: "shop", Schema: "ventas", SSLMode: "disable", PasswordEnv: "TEST_SHOP_PASSWORD"},
		},
	}
	t.Setenv("TEST_SHOP_PASSWORD", "shop-secret")

	var enc *crypto.CredentialEncryptor
	if withKey {
		var err error
		enc, err = crypto.NewCredentialEncryptor("test-passphrase")
		require.NoError(t, err)
	}

	session := newStubSession(nil)
	connector := newStubConnector(session)
	repo := &memDataSourceRepo{sources: map[uuid.UUID]*models.DataSource{}}
	conns := &memConnectionRepo{conns: map[uuid.UUID]*models.ExternalConnection{}}
	return &dataSourceFixture{
		service:   NewDataSourceService(repo, conns, enc, connector, cfg, zap.NewNop()),
		repo:      repo,
		conns:     conns,
		session:   session,
		connector: connector,
	}
}

func (f *dataSourceFixture) create(t *testing.T, name string, kind models.DataSourceKind) *models.DataSource {
	t.Helper()
	ds, err := f.service.Create(context.Background(), name, kind)
	require.NoError(t, err)
	return ds
}

func TestDataSourceCreate_Validation(t *testing.T) {
	f := newDataSourceFixture(t, false)

	_, err := f.service.Create(context.Background(), "  ", models.DataSourceFile)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = f.service.Create(context.Background(), "x", models.DataSourceKind("CSV"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	ds := f.create(t, " Ventas ", models.DataSourceFile)
	assert.Equal(t, "Ventas", ds.Name)
}

func TestResolve_FileUsesWarehouseSchema(t *testing.T) {
	f := newDataSourceFixture(t, false)
	ds := f.create(t, "Ventas", models.DataSourceFile)

	resolved, err := f.service.Resolve(context.Background(), ds.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, "warehouse.internal", resolved.Descriptor.Host)
	assert.Equal(t, 5433, resolved.Descriptor.Port)
	assert.Equal(t, DatasetSchema(ds.ID), resolved.Descriptor.Schema)
	assert.Len(t, resolved.Descriptor.Schema, 35)

	require.NoError(t, f.service.RecordImport(context.Background(), ds.ID, "ds_custom", "ventas"))
	resolved, err = f.service.Resolve(context.Background(), ds.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "ds_custom", resolved.Descriptor.Schema)
	assert.Equal(t, "ventas", resolved.DataSource.InternalTable)
}

func TestResolve_LiveFallsBackToConfiguredDatabase(t *testing.T) {
	f := newDataSourceFixture(t, false)
	ds := f.create(t, "tienda", models.DataSourceLive)

	resolved, err := f.service.Resolve(context.Background(), ds.ID, &datasource.ConnectionDescriptor{Schema: "public"})
	require.NoError(t, err)

	d := resolved.Descriptor
	assert.Equal(t, "shop.internal", d.Host)
	assert.Equal(t, "reader", d.User)
	assert.Equal(t, "shop-secret", d.Password)
	assert.Equal(t, "public", d.Schema)
	assert.Equal(t, datasource.DefaultType, d.Type)
}

func TestResolve_LiveWithoutCredentials(t *testing.T) {
	f := newDataSourceFixture(t, false)
	ds := f.create(t, "desconocida", models.DataSourceLive)

	_, err := f.service.Resolve(context.Background(), ds.ID, nil)

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestResolve_LiveRepositoryError(t *testing.T) {
	f := newDataSourceFixture(t, false)
	ds := f.create(t, "tienda", models.DataSourceLive)
	f.conns.err = errors.New("connection reset")

	_, err := f.service.Resolve(context.Background(), ds.ID, nil)

	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCreateExternalConnection_SealsAndResolves(t *testing.T) {
	f := newDataSourceFixture(t, true)
	ds := f.create(t, "tienda", models.DataSourceLive)

	conn, err := f.service.CreateExternalConnection(context.Background(), ds.ID, ExternalConnectionRequest{
		Host: "db.example.com", Database: "erp", User: "bi", Password: "hunter2", Schema: "sales",
	})
	require.NoError(t, err)

	assert.Empty(t, conn.Password)
	assert.NotEmpty(t, conn.SealedPassword)
	assert.NotContains(t, conn.SealedPassword, "hunter2")
	assert.Equal(t, 5432, conn.Port)
	require.Equal(t, 1, f.connector.opens)
	assert.Equal(t, "hunter2", f.connector.descs[0].Password)

	resolved, err := f.service.Resolve(context.Background(), ds.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "db.example.com", resolved.Descriptor.Host)
	assert.Equal(t, "hunter2", resolved.Descriptor.Password)
	assert.Equal(t, "sales", resolved.Descriptor.Schema)
}

func TestCreateExternalConnection_Rejections(t *testing.T) {
	t.Run("no key", func(t *testing.T) {
		f := newDataSourceFixture(t, false)
		ds := f.create(t, "tienda", models.DataSourceLive)
		_, err := f.service.CreateExternalConnection(context.Background(), ds.ID, ExternalConnectionRequest{Host: "h", Database: "d", User: "u"})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("file datasource", func(t *testing.T) {
		f := newDataSourceFixture(t, true)
		ds := f.create(t, "archivo", models.DataSourceFile)
		_, err := f.service.CreateExternalConnection(context.Background(), ds.ID, ExternalConnectionRequest{Host: "h", Database: "d", User: "u"})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("incomplete descriptor", func(t *testing.T) {
		f := newDataSourceFixture(t, true)
		ds := f.create(t, "tienda", models.DataSourceLive)
		_, err := f.service.CreateExternalConnection(context.Background(), ds.ID, ExternalConnectionRequest{Host: "h"})
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		assert.Equal(t, 0, f.connector.opens)
	})

	t.Run("unreachable", func(t *testing.T) {
		f := newDataSourceFixture(t, true)
		ds := f.create(t, "tienda", models.DataSourceLive)
		f.connector.openErr = apperrors.Connectivity("db.example.com", errors.New("timeout"))
		_, err := f.service.CreateExternalConnection(context.Background(), ds.ID, ExternalConnectionRequest{Host: "db.example.com", Database: "d", User: "u"})
		assert.ErrorIs(t, err, apperrors.ErrConnectivity)
		assert.Empty(t, f.conns.conns)
	})
}

func TestResolve_SealedPasswordWithoutKey(t *testing.T) {
	f := newDataSourceFixture(t, false)
	ds := f.create(t, "tienda", models.DataSourceLive)
	f.conns.conns[ds.ID] = &models.ExternalConnection{DataSourceID: ds.ID, Host: "h", Database: "d", Username: "u", SealedPassword: "c2VhbGVk"}

	_, err := f.service.Resolve(context.Background(), ds.ID, nil)

	assert.ErrorIs(t, err, apperrors.ErrCredentialsKeyMismatch)
}

func TestDataSourceDelete_DropsDatasetSchema(t *testing.T) {
	f := newDataSourceFixture(t, false)
	ds := f.create(t, "Ventas", models.DataSourceFile)

	require.NoError(t, f.service.Delete(context.Background(), ds.ID))

	assert.Equal(t, []string{`DROP SCHEMA IF EXISTS "` + DatasetSchema(ds.ID) + `" CASCADE`}, f.session.tx.statements)
	assert.Equal(t, []uuid.UUID{ds.ID}, f.repo.deleted)
	assert.Equal(t, "warehouse.internal", f.connector.descs[0].Host)
}

func TestDataSourceDelete_LiveKeepsRemoteData(t *testing.T) {
	f := newDataSourceFixture(t, false)
	ds := f.create(t, "tienda", models.DataSourceLive)

	require.NoError(t, f.service.Delete(context.Background(), ds.ID))

	assert.Equal(t, 0, f.connector.opens)
	assert.Equal(t, []uuid.UUID{ds.ID}, f.repo.deleted)
}

func TestDataSourceDelete_NotFound(t *testing.T) {
	f := newDataSourceFixture(t, false)

	assert.ErrorIs(t, f.service.Delete(context.Background(), uuid.New()), apperrors.ErrNotFound)
}
