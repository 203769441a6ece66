package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"debugconsole/internal/auth"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHashPasswordFromArgument(t *testing.T) {
	out, err := run(t, "", "hash-password", "s3cret")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(hash, "argon2id$"))
	ok, err := auth.VerifyPassword("s3cret", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHashPasswordFromStdin(t *testing.T) {
	out, err := run(t, "piped\n", "hash-password")
	require.NoError(t, err)

	ok, err := auth.VerifyPassword("piped", strings.TrimSpace(out))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	_, err := run(t, "\n", "hash-password")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be empty")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "debug-console dev\n", out)
}

func TestServeRejectsUnknownConfigFile(t *testing.T) {
	_, err := run(t, "", "serve", "--config", "/nonexistent/console.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}
