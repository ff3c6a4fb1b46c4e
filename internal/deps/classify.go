package deps

import (
	"fmt"
	"strings"
)

// ErrorKind names the actionable installer failure categories.
type ErrorKind string

const (
	KindPermission ErrorKind = "permission"
	KindResolution ErrorKind = "resolution"
	KindNotFound   ErrorKind = "notfound"
	KindUnknown    ErrorKind = "unknown"
)

// InstallError is a classified installer failure with the raw output
// attached.
type InstallError struct {
	Kind     ErrorKind
	ExitCode int
	Output   string
	Err      error
}

func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dependency install failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("dependency install failed (%s): exit code %d", e.Kind, e.ExitCode)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Classify inspects installer output for known failure signatures.
func Classify(exitCode int, output string) *InstallError {
	kind := KindUnknown
	lowered := normalize(output)
	switch {
	case containsAny(lowered, "eacces", "permission denied", "access denied"):
		kind = KindPermission
	case containsAny(lowered, "eresolve", "unable to resolve dependency", "conflicting peer dependency", "version conflict"):
		kind = KindResolution
	case containsAny(lowered, "e404", "404 not found", "is not in this registry", "could not resolve host"):
		kind = KindNotFound
	}
	return &InstallError{Kind: kind, ExitCode: exitCode, Output: output}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
