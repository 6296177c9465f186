package database

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestOwnerIDFromContext(t *testing.T) {
	_, ok := OwnerIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = OwnerIDFromContext(WithOwnerID(context.Background(), uuid.Nil))
	assert.False(t, ok, "nil uuid is not an owner")

	id := uuid.New()
	got, ok := OwnerIDFromContext(WithOwnerID(context.Background(), id))
	assert.True(t, ok)
	assert.Equal(t, id, got)
	assert.Equal(t, id.String(), OwnerString(WithOwnerID(context.Background(), id)))
	assert.Empty(t, OwnerString(context.Background()))
}

func TestGetOwnerScope(t *testing.T) {
	_, ok := GetOwnerScope(context.Background())
	assert.False(t, ok)

	// A closed scope has no connection and is treated as absent.
	ctx := SetOwnerScope(context.Background(), &OwnerScope{OwnerID: uuid.New()})
	_, ok = GetOwnerScope(ctx)
	assert.False(t, ok)
	_, ok = OwnerIDFromContext(ctx)
	assert.True(t, ok)
}

func TestOwnerScope_CloseWithoutConn(t *testing.T) {
	s := &OwnerScope{}
	assert.NotPanics(t, s.Close)
}
