package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/dataflow/internal/config"
	"github.com/rpattn/dataflow/internal/metadata"
)

func TestOpenCatalog_Static(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sources":{"sales":{"fields":[{"id":"1","name_en":"amt","data_type":"number"}],"sensitive":["1"]}}}`), 0o600))

	catalog, closeCatalog, err := openCatalog(context.Background(), config.MetadataConfig{Driver: config.DriverStatic, CatalogFile: path}, nil)
	require.NoError(t, err)
	defer closeCatalog()
	fields, err := catalog.FieldList(context.Background(), "sales")
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "sales", fields[0].SourceID)

	provider, err := policyProvider(config.PolicyConfig{Provider: config.PolicyCatalog}, catalog, nil)
	require.NoError(t, err)
	keys, err := provider.SensitiveFields(context.Background(), "sales")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "1", keys[0].ID)
}

func TestOpenCatalog_Errors(t *testing.T) {
	_, _, err := openCatalog(context.Background(), config.MetadataConfig{Driver: "oracle"}, nil)
	assert.ErrorContains(t, err, "unknown metadata driver")

	_, _, err = openCatalog(context.Background(), config.MetadataConfig{Driver: config.DriverStatic, CatalogFile: filepath.Join(t.TempDir(), "none.json")}, nil)
	assert.Error(t, err)
}

func TestPolicyProvider(t *testing.T) {
	provider, err := policyProvider(config.PolicyConfig{Provider: config.PolicyNone}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, provider)

	_, err = policyProvider(config.PolicyConfig{Provider: config.PolicyCatalog}, &metadata.PostgresCatalog{}, nil)
	assert.ErrorContains(t, err, "static metadata driver")

	_, err = policyProvider(config.PolicyConfig{Provider: "ldap"}, nil, nil)
	assert.ErrorContains(t, err, "unknown policy provider")

	provider, err = policyProvider(config.PolicyConfig{Provider: config.PolicyPostgres}, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, provider)
}

func TestEnvOr(t *testing.T) {
	t.Setenv("DATAFLOW_TEST_VALUE", "set")
	assert.Equal(t, "set", envOr("DATAFLOW_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", envOr("DATAFLOW_TEST_UNSET", "fallback"))
}
