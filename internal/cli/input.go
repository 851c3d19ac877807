package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"cohortweaver/internal/core"
)

const (
	ExitSuccess           = 0
	ExitGraphFailure      = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// Invocation is the canonical description of one command.
//
// Relative paths are resolved against WorkDir when it is set.
type Invocation struct {
	WorkDir     string
	TreePath    string
	ConfigPath  string
	TracePath   string
	MetricsAddr string
	Params      core.Parameters
	// ClearCache invalidates every node's cache entry before running.
	ClearCache bool
	// Direct runs the root's combined query as one task even when a cache is
	// configured.
	Direct bool
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// ExitError carries the exit code a command failed with.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func exitErr(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// ParseParams turns name=value pairs into query parameters. A leading @ on
// the name is accepted.
func ParseParams(pairs []string) (core.Parameters, error) {
	params := make(core.Parameters, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimPrefix(strings.TrimSpace(name), "@")
		if !ok || name == "" {
			return nil, invalidInvocationf("invalid --param %q (expected name=value)", p)
		}
		if _, dup := params[name]; dup {
			return nil, invalidInvocationf("parameter %q given more than once", name)
		}
		params[name] = value
	}
	return params, nil
}

// canonicalize checks required fields and resolves paths.
func (inv Invocation) canonicalize(needTree bool) (Invocation, error) {
	if inv.WorkDir != "" {
		inv.WorkDir = filepath.Clean(inv.WorkDir)
		if !filepath.IsAbs(inv.WorkDir) {
			return Invocation{}, invalidInvocationf("--workdir must be an absolute path (got %q)", inv.WorkDir)
		}
	}
	if needTree && strings.TrimSpace(inv.TreePath) == "" {
		return Invocation{}, invalidInvocationf("--tree is required")
	}
	var err error
	for _, p := range []*string{&inv.TreePath, &inv.ConfigPath, &inv.TracePath} {
		if *p == "" {
			continue
		}
		if *p, err = resolveUnderWorkDir(inv.WorkDir, *p); err != nil {
			return Invocation{}, err
		}
	}
	return inv, nil
}

func resolveUnderWorkDir(workDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}
	if filepath.IsAbs(clean) || workDir == "" {
		return clean, nil
	}
	return filepath.Clean(filepath.Join(workDir, clean)), nil
}

// ExitCode extracts the exit code carried by err.
// Errors of unknown type map to ExitInternalError.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	return ExitInternalError
}
