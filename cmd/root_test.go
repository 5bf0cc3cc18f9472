package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/visit-scheduler/internal/config"
)

type fakeRunner struct {
	err error
	ran bool
}

func (f *fakeRunner) Run(context.Context) error {
	f.ran = true
	return f.err
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNormalizeCommand(t *testing.T) {
	out, err := execute(t, "normalize", "HTTP://WWW.Example.COM:80/a/../b")
	require.NoError(t, err)
	require.Contains(t, out, "url:    http://www.example.com/b")
	require.Contains(t, out, "host:   www.example.com")
	require.Contains(t, out, "domain: example.com")
	require.Contains(t, out, "hash:   ")
}

func TestNormalizeCommandResolvesReference(t *testing.T) {
	out, err := execute(t, "normalize", "https://example.com/a/b", "../c")
	require.NoError(t, err)
	require.Contains(t, out, "url:    https://example.com/c")
}

func TestNormalizeCommandRejectsMalformed(t *testing.T) {
	_, err := execute(t, "normalize", "ftp://example.com/")
	require.Error(t, err)

	_, err = execute(t, "normalize")
	require.Error(t, err)
}

func TestRunCommandUsesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("manager:\n  workers: 7\n"), 0o600))

	runner := &fakeRunner{}
	var got config.Config
	orig := newApp
	t.Cleanup(func() { newApp = orig })
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (Runner, error) {
		got = cfg
		return runner, nil
	}

	_, err := execute(t, "run", "--config", path)
	require.NoError(t, err)
	require.True(t, runner.ran)
	require.Equal(t, 7, got.Manager.Workers)
}

func TestRunCommandPropagatesErrors(t *testing.T) {
	orig := newApp
	t.Cleanup(func() { newApp = orig })

	boom := errors.New("boom")
	newApp = func(context.Context, config.Config, *zap.Logger) (Runner, error) {
		return &fakeRunner{err: boom}, nil
	}
	_, err := execute(t, "run")
	require.ErrorIs(t, err, boom)

	_, err = execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "load config")
}
