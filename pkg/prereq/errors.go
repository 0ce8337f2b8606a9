package prereq

import "fmt"

// BadScriptError is raised when the component definition script fails,
// carrying the script's own diagnostic trace.
type BadScriptError struct {
	Script string
	Trace  string
	Err    error
}

func (e *BadScriptError) Error() string {
	return fmt.Sprintf("Failed to execute %s:\n%s\n\nTraceback", e.Script, e.Trace)
}

func (e *BadScriptError) Unwrap() error { return e.Err }

// MissingDefinitionError is raised when a component has no definition.
type MissingDefinitionError struct {
	Component string
}

func (e *MissingDefinitionError) Error() string {
	return fmt.Sprintf("No definition for %s", e.Component)
}

// MissingPathError is raised when a user override names a path that does
// not exist.
type MissingPathError struct {
	Variable string
}

func (e *MissingPathError) Error() string {
	return fmt.Sprintf("%s specifies a path that doesn't exist", e.Variable)
}

// BuildError is raised when a component's build commands fail.
type BuildError struct {
	Component string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s failed to build", e.Component)
}

// MissingTargetsError is raised when expected targets are still missing
// after a component build. Package distinguishes a missing system package
// from plain missing build artifacts.
type MissingTargetsError struct {
	Component string
	Package   string
}

func (e *MissingTargetsError) Error() string {
	if e.Package == "" {
		return fmt.Sprintf("%s has missing targets after build", e.Component)
	}
	return fmt.Sprintf("Package %s is required", e.Package)
}

// MissingSystemLibsError is raised when system-level dependencies are
// absent before a build even starts.
type MissingSystemLibsError struct {
	Component string
}

func (e *MissingSystemLibsError) Error() string {
	return fmt.Sprintf("%s has unmet dependencies required for build", e.Component)
}

// DownloadRequiredError is raised when a component must be fetched but
// downloads are disabled.
type DownloadRequiredError struct {
	Component string
}

func (e *DownloadRequiredError) Error() string {
	return fmt.Sprintf("%s needs to be built, use --build-deps=yes", e.Component)
}

// BuildRequiredError is raised when a component must be built but builds
// are disabled.
type BuildRequiredError struct {
	Component string
}

func (e *BuildRequiredError) Error() string {
	return fmt.Sprintf("%s needs to be built, use --build-deps=yes", e.Component)
}
