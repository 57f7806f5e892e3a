// Package indexerdb holds the Indexer's schema migrations, run via
// pkg/pgutil/migrations.RunMigrations.
package indexerdb

import "github.com/uptrace/bun/migrate"

// Migrations is the registry every numbered migration file in this package
// registers itself into via its init function.
var Migrations = migrate.NewMigrations()
