package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppliedBetween(t *testing.T) {
	files := []string{"0001_init.up.sql", "0002_deposits.up.sql", "0003_settings.up.sql"}
	assert.Equal(t, []string{"0002_deposits.up.sql", "0003_settings.up.sql"}, appliedBetween(files, 1, 3))
	assert.Empty(t, appliedBetween(files, 3, 3))
}

func TestConfigURL(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", User: "shop", Password: "p@ss", Name: "numbershop"}
	assert.Equal(t, "postgres://shop:p%40ss@db:5432/numbershop?sslmode=disable", cfg.URL())
}
