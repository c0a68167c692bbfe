package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"import", "classify", "reclassify", "score", "summarize", "trace", "serve", "migrate", "errors"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "inspection-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestImportCommand_RequiredFlags(t *testing.T) {
	flag := importCmd.Flags().Lookup("manifest")
	require.NotNil(t, flag, "import command should have --manifest flag")
}

func TestClassifyCommand_Flags(t *testing.T) {
	for _, name := range []string{"pending", "property"} {
		assert.NotNil(t, classifyCmd.Flags().Lookup(name), "classify should have --%s flag", name)
	}
}

func TestScoreCommand_Flags(t *testing.T) {
	flag := scoreCmd.Flags().Lookup("recompute")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)

	format := scoreCmd.Flags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "table", format.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestErrorsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range errorsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "stats"} {
		assert.True(t, names[name], "errors should have subcommand %q", name)
	}
}

func TestCommands_ArgValidation(t *testing.T) {
	tests := []struct {
		name string
		err  bool
		args []string
		fn   func([]string) error
	}{
		{"score needs a property", true, nil, func(a []string) error { return scoreCmd.Args(scoreCmd, a) }},
		{"score one property", false, []string{"P1"}, func(a []string) error { return scoreCmd.Args(scoreCmd, a) }},
		{"trace needs a property", true, nil, func(a []string) error { return traceCmd.Args(traceCmd, a) }},
		{"reclassify needs a category", true, []string{"F1"}, func(a []string) error { return reclassifyCmd.Args(reclassifyCmd, a) }},
		{"reclassify with categories", false, []string{"F1", "mold", "crack"}, func(a []string) error { return reclassifyCmd.Args(reclassifyCmd, a) }},
		{"summarize needs a property", true, nil, func(a []string) error { return summarizeCmd.Args(summarizeCmd, a) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn(tt.args)
			if tt.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
