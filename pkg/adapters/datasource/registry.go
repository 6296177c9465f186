package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
)

// AdapterInfo describes a registered adapter.
type AdapterInfo struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// OpenFunc opens a session for a descriptor of the adapter's type.
type OpenFunc func(ctx context.Context, desc ConnectionDescriptor, ownerID string, connMgr *ConnectionManager, logger *zap.Logger) (Session, error)

// Registration contains info and the session factory of an adapter.
type Registration struct {
	Info AdapterInfo
	Open OpenFunc
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register is called by each adapter's init() function.
func Register(reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters ordered by type.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

func lookup(dsType string) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[dsType]
	return reg, ok
}

// OwnerFunc extracts the owner identity used to partition pools.
type OwnerFunc func(ctx context.Context) string

type registryConnector struct {
	connMgr *ConnectionManager
	owner   OwnerFunc
	logger  *zap.Logger
}

// NewConnector returns a Connector dispatching on the descriptor type
// through the adapter registry.
func NewConnector(connMgr *ConnectionManager, owner OwnerFunc, logger *zap.Logger) Connector {
	if owner == nil {
		owner = func(context.Context) string { return "" }
	}
	return &registryConnector{connMgr: connMgr, owner: owner, logger: logger}
}

func (c *registryConnector) Open(ctx context.Context, desc ConnectionDescriptor) (Session, error) {
	desc = desc.WithDefaults()
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	reg, ok := lookup(desc.Driver())
	if !ok {
		return nil, fmt.Errorf("%w: unsupported datasource type %q", apperrors.ErrInvalidInput, desc.Driver())
	}
	return reg.Open(ctx, desc, c.owner(ctx), c.connMgr, c.logger)
}

var _ Connector = (*registryConnector)(nil)
