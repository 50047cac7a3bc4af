package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "secret"

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, "localhost", pc.ConnConfig.Host)
	assert.Equal(t, uint16(5432), pc.ConnConfig.Port)
	assert.Equal(t, "curriculum", pc.ConnConfig.Database)
	assert.Equal(t, int32(10), pc.MaxConns)
	assert.Equal(t, int32(2), pc.MinConns)

	cfg.URL = "postgres://app:pw@db.internal:6543/lessons?sslmode=disable"
	pc, err = cfg.PoolConfig()
	require.NoError(t, err, "URL wins over the discrete fields")
	assert.Equal(t, "db.internal", pc.ConnConfig.Host)
	assert.Equal(t, uint16(6543), pc.ConnConfig.Port)
	assert.Equal(t, "lessons", pc.ConnConfig.Database)
	assert.Equal(t, "app", pc.ConnConfig.User)

	cfg.URL = "postgres://%zz"
	_, err = cfg.PoolConfig()
	assert.ErrorContains(t, err, "failed to parse connection string")
}
