package execshell

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdout(t *testing.T) {
	res, err := Run(context.Background(), []string{"echo", "foo"}, "")
	require.NoError(t, err)
	require.Equal(t, "foo\n", res.Stdout)
	require.Equal(t, 0, res.ExitCode)
}

func TestRunPipesStdin(t *testing.T) {
	res, err := Run(context.Background(), []string{"sed", "s/o/x/"}, "foo\n")
	require.NoError(t, err)
	require.Equal(t, "fxo\n", res.Stdout)
}

func TestRunReportsNonZeroExit(t *testing.T) {
	res, err := Run(context.Background(), []string{"sh", "-c", "echo oops 1>&2; exit 3"}, "")
	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)
	require.Equal(t, "oops\n", res.Stderr)
}

func TestRunStartFailureIsError(t *testing.T) {
	_, err := Run(context.Background(), []string{"this-binary-does-not-exist-anywhere"}, "")
	require.Error(t, err)
}

func TestRunEmptyArgv(t *testing.T) {
	_, err := Run(context.Background(), nil, "")
	require.Error(t, err)
}
