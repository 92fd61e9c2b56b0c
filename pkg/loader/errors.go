package loader

import (
	"fmt"
)

// Build stages reported by BuildError
const (
	StageConfig   = "config"
	StageStore    = "store"
	StageParse    = "parse"
	StageWrite    = "write"
	StageFinalize = "finalize"
)

// ParseError is returned for an input line without a usable primary identifier
type ParseError struct {
	Line int    // 1-based line number in the input file
	Text string // The offending line
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: no primary identifier in %q", e.Line, e.Text)
}

// BuildError reports the stage a build failed in
type BuildError struct {
	Stage string
	Line  int // Input line being processed, zero when not applicable
	Err   error
}

func (e *BuildError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("build failed at %s stage, line %d: %v", e.Stage, e.Line, e.Err)
	}
	return fmt.Sprintf("build failed at %s stage: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
