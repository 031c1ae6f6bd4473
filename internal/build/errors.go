package build

import (
	"fmt"

	"github.com/im3e/forge/mod/module"
)

// Step names a pipeline step.
type Step string

const (
	StepSource      Step = "source"
	StepGenerate    Step = "generate"
	StepBuild       Step = "build"
	StepPackage     Step = "package"
	StepPackageInfo Step = "package_info"
	StepTest        Step = "test"
)

// StepError is a failure of one step of one package. Err is the failure of
// the delegated tool or hook, unchanged.
type StepError struct {
	Ref  module.Version
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s step: %v", e.Ref, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ComponentMismatchError reports a requirer linking components a dependency
// does not publish.
type ComponentMismatchError struct {
	Requirer   module.Version
	Dependency module.Version
	Missing    []string
	Published  []string
}

func (e *ComponentMismatchError) Error() string {
	return fmt.Sprintf("%s expects components %v of %s, which publishes %v",
		e.Requirer, e.Missing, e.Dependency, e.Published)
}
