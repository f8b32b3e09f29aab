package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"load", "migrate", "status", "watch", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "covid-loader", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestLoadCommand_Flags(t *testing.T) {
	for _, name := range []string{"mode", "rows", "concurrency", "dry-run"} {
		assert.NotNil(t, loadCmd.Flags().Lookup(name), "load command should have --%s flag", name)
	}

	out := loadCmd.Flags().Lookup("output")
	require.NotNil(t, out)
	assert.Equal(t, "table", out.DefValue)
	assert.Equal(t, "o", out.Shorthand)
}

func TestLoadCommand_RequiresArgs(t *testing.T) {
	assert.Error(t, loadCmd.Args(loadCmd, nil))
	assert.NoError(t, loadCmd.Args(loadCmd, []string{"a.csv"}))
}

func TestStatusCommand_Flags(t *testing.T) {
	flag := statusCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestWatchCommand_Flags(t *testing.T) {
	flag := watchCmd.Flags().Lookup("dir")
	require.NotNil(t, flag)
	assert.Equal(t, "", flag.DefValue)
}
