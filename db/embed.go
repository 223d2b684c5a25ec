package db

import "embed"

// MigrationsFS contains the local cache schema migrations, embedded at compile time.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS

// MigrationsDir is the directory inside MigrationsFS holding the .sql files.
const MigrationsDir = "migrations"
