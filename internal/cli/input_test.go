package cli

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohortweaver/internal/core"
)

func TestParseParams(t *testing.T) {
	params, err := ParseParams([]string{"year=1990", "@sex='F'", "empty="})
	require.NoError(t, err)
	assert.Equal(t, core.Parameters{"year": "1990", "sex": "'F'", "empty": ""}, params)

	for _, bad := range [][]string{{"noequals"}, {"=1"}, {"a=1", "a=2"}} {
		_, err := ParseParams(bad)
		require.Error(t, err, "%v", bad)
		assert.Equal(t, ExitInvalidInvocation, ExitCode(err))
	}
}

func TestInvocation_ResolvesAgainstWorkDir(t *testing.T) {
	workDir := t.TempDir()
	inv, err := Invocation{
		WorkDir:   workDir,
		TreePath:  "trees/../tree.json",
		TracePath: "out/trace.json",
	}.canonicalize(true)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(workDir, "tree.json"), inv.TreePath)
	assert.Equal(t, filepath.Join(workDir, "out", "trace.json"), inv.TracePath)
	assert.Empty(t, inv.ConfigPath)
}

func TestInvocation_Rejects(t *testing.T) {
	_, err := Invocation{TreePath: "tree.json", WorkDir: "relative"}.canonicalize(true)
	assert.Equal(t, ExitInvalidInvocation, ExitCode(err))

	_, err = Invocation{}.canonicalize(true)
	assert.Equal(t, ExitInvalidInvocation, ExitCode(err))

	_, err = Invocation{TreePath: "."}.canonicalize(true)
	assert.Equal(t, ExitInvalidInvocation, ExitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitInternalError, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitConfigError, ExitCode(exitErr(ExitConfigError, errors.New("bad config"))))
	assert.Equal(t, ExitInvalidInvocation, ExitCode(&InvocationError{Message: "x"}))
}
