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

	for _, name := range []string{"serve", "score", "search", "analyze", "weights", "outcome"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "matchscore", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestScoreCommand_Flags(t *testing.T) {
	for _, name := range []string{"profile", "profile-id", "opportunity", "persist", "format", "output"} {
		assert.NotNil(t, scoreCmd.Flags().Lookup(name), "score should have --%s flag", name)
	}
	assert.Equal(t, "table", scoreCmd.Flags().Lookup("format").DefValue)
}

func TestSearchCommand_Flags(t *testing.T) {
	for _, name := range []string{"profile", "profile-id", "filter", "page", "page-size", "sort", "format"} {
		assert.NotNil(t, searchCmd.Flags().Lookup(name), "search should have --%s flag", name)
	}
	assert.Equal(t, "1", searchCmd.Flags().Lookup("page").DefValue)
}

func TestWeightsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range weightsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"validate", "normalize", "show"} {
		assert.True(t, names[name], "weights should have subcommand %q", name)
	}
}

func TestOutcomeCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range outcomeCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"record", "report"} {
		assert.True(t, names[name], "outcome should have subcommand %q", name)
	}
}

func TestAnalyzeCommand_RequiresOpportunityID(t *testing.T) {
	require.Error(t, analyzeCmd.Args(analyzeCmd, nil))
	require.NoError(t, analyzeCmd.Args(analyzeCmd, []string{"opp-1"}))
}
