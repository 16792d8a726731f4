package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/assetflow/internal/cli"
)

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}

	err := run(context.Background(), []string{"-h"}, out, errOut)

	require.NoError(t, err, "help should not be an error")
	require.Contains(t, errOut.String(), "Usage:")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}

	err := run(context.Background(), []string{"--this-is-not-a-valid-flag"}, out, errOut)

	require.Error(t, err)
	require.Equal(t, cli.ExitUsage, cli.ExitCode(err))
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}
