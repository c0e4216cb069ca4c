// Package migrations holds the schema migrations of the document store, one
// file per target version.
package migrations

import "github.com/asaidimu/go-jsondb/core/migration"

// All returns every known migration step.
func All() []migration.Step {
	return []migration.Step{
		{
			Version:     32,
			Description: "Key continuous delivery state by environment id",
			Up:          Up32,
		},
		{
			Version:     43,
			Description: "Normalize api-provider end action defaults",
			Up:          Up43,
		},
	}
}
