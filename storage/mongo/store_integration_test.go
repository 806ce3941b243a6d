//go:build integration
// +build integration

package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/databridge-go/contracts"
	"github.com/glimte/databridge-go/schema"
)

var testMongoURL string

func init() {
	testMongoURL = os.Getenv("MONGODB_URL")
	if testMongoURL == "" {
		testMongoURL = "mongodb://localhost:27017"
	}
}

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	collection := fmt.Sprintf("definitions_%d", time.Now().UnixNano())
	store, disconnect, err := Connect(ctx, testMongoURL, "databridge_test", WithCollection(collection))
	require.NoError(t, err)
	defer func() {
		_ = store.collection.Drop(ctx)
		_ = disconnect(ctx)
	}()

	def, err := contracts.NewStreamDefinition("Temperature", "1.0.0")
	require.NoError(t, err)
	def.AddPayloadData("celsius", contracts.AttributeTypeDouble)

	t.Run("save and load", func(t *testing.T) {
		stored, err := store.Save(ctx, def)
		require.NoError(t, err)
		assert.True(t, stored)

		loaded, err := store.Get(ctx, "Temperature", "1.0.0")
		require.NoError(t, err)
		assert.True(t, def.Equal(loaded))
	})

	t.Run("duplicate is ignored", func(t *testing.T) {
		again, err := contracts.NewStreamDefinition("Temperature", "1.0.0")
		require.NoError(t, err)
		again.AddPayloadData("celsius", contracts.AttributeTypeDouble)
		again.SetDescription("same schema")

		stored, err := store.Save(ctx, again)
		require.NoError(t, err)
		assert.False(t, stored)
	})

	t.Run("conflict is rejected", func(t *testing.T) {
		conflicting, err := contracts.NewStreamDefinition("Temperature", "1.0.0")
		require.NoError(t, err)
		conflicting.AddPayloadData("fahrenheit", contracts.AttributeTypeDouble)

		_, err = store.Save(ctx, conflicting)
		assert.ErrorIs(t, err, schema.ErrDifferentDefinition)
	})

	t.Run("list and delete", func(t *testing.T) {
		defs, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, defs, 1)

		removed, err := store.Delete(ctx, "Temperature", "1.0.0")
		require.NoError(t, err)
		assert.True(t, removed)

		_, err = store.GetByID(ctx, "Temperature-1.0.0")
		assert.ErrorIs(t, err, schema.ErrDefinitionNotFound)
	})

	t.Run("unvalidated definition is loaded and deduplicated", func(t *testing.T) {
		unvalidated := contracts.NewStreamDefinitionWithName("Temp-erature")

		stored, err := store.Save(ctx, unvalidated)
		require.NoError(t, err)
		assert.True(t, stored)

		loaded, err := store.GetByID(ctx, "Temp-erature-1.0.0")
		require.NoError(t, err)
		assert.True(t, unvalidated.Equal(loaded))

		stored, err = store.Save(ctx, contracts.NewStreamDefinitionWithName("Temp-erature"))
		require.NoError(t, err)
		assert.False(t, stored)
	})
}
