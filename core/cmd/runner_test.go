package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/numbershop/core/config"
	coretelegram "github.com/m3rciful/numbershop/core/telegram"
)

type carrier struct{ cfg coreconfig.Config }

func (c *carrier) CoreConfig() *coreconfig.Config { return &c.cfg }

type app struct{ started, stopped bool }

func (a *app) TelegramRunOptions() (coretelegram.RunOptions, error) {
	return coretelegram.RunOptions{
		OnStart: func(context.Context, coretelegram.Runtime) error { a.started = true; return nil },
		OnStop:  func(context.Context, coretelegram.Runtime) error { a.stopped = true; return nil },
	}, nil
}

func TestRunLoadsEnvFilesAndWrapsHooks(t *testing.T) {
	const key = "NUMBERSHOP_RUNNER_TEST_CONFIG"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(key+"=from-env.yaml\n"), 0o600))

	var loaded string
	a := &app{}
	loggerClosed := false
	err := Run(Options{
		ConfigEnvVar: key,
		EnvFiles:     []string{filepath.Join(dir, "missing.env"), envFile},
		LoadConfig: func(path string) (ConfigCarrier, error) {
			loaded = path
			return &carrier{}, nil
		},
		Bootstrap: func(context.Context, ConfigCarrier) (TelegramApp, error) { return a, nil },
		ShutdownLogger: func() error {
			loggerClosed = true
			return nil
		},
		RunTelegram: func(ctx context.Context, opts coretelegram.RunOptions) error {
			if err := opts.OnStart(ctx, coretelegram.Runtime{}); err != nil {
				return err
			}
			return opts.OnStop(ctx, coretelegram.Runtime{})
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "from-env.yaml", loaded)
	assert.True(t, a.started)
	assert.True(t, a.stopped)
	assert.True(t, loggerClosed)
}

func TestRunBootstrapFailure(t *testing.T) {
	boom := errors.New("boom")
	err := Run(Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig:        func(string) (ConfigCarrier, error) { return &carrier{}, nil },
		Bootstrap:         func(context.Context, ConfigCarrier) (TelegramApp, error) { return nil, boom },
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunRequiresConfigPath(t *testing.T) {
	t.Setenv("NUMBERSHOP_EMPTY_CONFIG", "")
	err := Run(Options{
		ConfigEnvVar: "NUMBERSHOP_EMPTY_CONFIG",
		LoadConfig:   func(string) (ConfigCarrier, error) { return &carrier{}, nil },
		Bootstrap:    func(context.Context, ConfigCarrier) (TelegramApp, error) { return &app{}, nil },
	})
	assert.ErrorContains(t, err, "config path not provided")
}
