package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsin-app/whatsin/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "migrate", "sweep"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "whatsin", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestSweepCommand_Flags(t *testing.T) {
	flag := sweepCmd.Flags().Lookup("older-than-hours")
	require.NotNil(t, flag, "sweep command should have --older-than-hours flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestNewStore_UnknownDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "oracle"}}
	_, err := newStore(t.Context())
	assert.Error(t, err)
}

func TestNewStore_SQLite(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: t.TempDir() + "/cmd.db",
	}}

	st, err := newStore(t.Context())
	require.NoError(t, err)
	require.NoError(t, st.Migrate(t.Context()))
	assert.NoError(t, st.Close())
}
