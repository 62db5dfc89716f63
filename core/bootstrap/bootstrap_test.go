package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/numbershop/core/config"
	coredatabase "github.com/m3rciful/numbershop/core/database"
)

func TestRunStopsOnConnectError(t *testing.T) {
	migrated := false
	_, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		LoggerInit: func(*coreconfig.Config) error { return nil },
		Connect: func(coredatabase.Config) (*sqlx.DB, error) {
			return nil, errors.New("refused")
		},
		Migrate: func(coredatabase.Config) error {
			migrated = true
			return nil
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
	assert.False(t, migrated)
}

func TestRunRequiresConfig(t *testing.T) {
	_, err := Run(context.Background(), Options{})
	require.Error(t, err)
}

func TestSeederFunc(t *testing.T) {
	s := SeederFunc{Label: "countries", Fn: func(context.Context, *sqlx.DB) (int, error) { return 3, nil }}
	n, err := s.Seed(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "countries", s.Name())
}
