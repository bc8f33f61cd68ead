package flow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSchema              = errors.New("flow document does not match schema")
	ErrIncompatibleVersion = errors.New("incompatible flow format version")
	ErrNoFlowFiles         = errors.New("no flow files matched")
	ErrInvalidRoute        = errors.New("invalid route")
)

// ErrorCode classifies a build failure.
type ErrorCode string

const (
	// CodeInvalidConfig indicates the authored flow graph is defective.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"
)

// Issue is one construction-time problem.
type Issue struct {
	Route   string `json:"route,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	var b strings.Builder
	if i.Route != "" {
		b.WriteString(i.Route)
		b.WriteString(": ")
	}
	b.WriteString(i.Message)
	return b.String()
}

// BuildError reports every problem found while building a Graph.
type BuildError struct {
	Code   ErrorCode `json:"code"`
	Issues []Issue   `json:"issues"`
}

func (e *BuildError) Error() string {
	if len(e.Issues) == 1 {
		return fmt.Sprintf("%s: %s", e.Code, e.Issues[0])
	}
	msgs := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		msgs[i] = "  - " + is.String()
	}
	return fmt.Sprintf("%s: %d problems\n%s", e.Code, len(e.Issues), strings.Join(msgs, "\n"))
}
