package util

import (
	"fmt"
	"strings"
)

// ScopeDelimiter separates a task's config scope from its name in a task
// identifier, the same role the "#" delimiter plays between package and
// task name in the pack's monorepo build tool.
const ScopeDelimiter = "#"

// RootScope is the reserved scope name for top-level pipeline tasks, as
// opposed to dependency tasks nested under another task's scope.
const RootScope = "root"

// TaskID returns the scope-qualified identifier for a task (e.g. "root#Align"
// or "Align#Index" for a dependency task named Index scoped under Align).
func TaskID(scope, name string) string {
	return fmt.Sprintf("%s%s%s", scope, ScopeDelimiter, name)
}

// SplitTaskID returns the scope and name encoded in a task identifier
// produced by TaskID.
func SplitTaskID(id string) (scope, name string) {
	parts := strings.SplitN(id, ScopeDelimiter, 2)
	if len(parts) != 2 {
		return id, ""
	}
	return parts[0], parts[1]
}
