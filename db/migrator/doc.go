// Package migrator provides functionality to manage database schema migrations.
//
// Features:
//   - Supports both forward (`up`) and rollback (`down`) migrations
//   - Migrations are declarative: each is a list of schema operations (add,
//     drop, rename or alter a column, create or drop an index or table) whose
//     rollback is derived from the operations themselves, or given explicitly
//   - Loads migration documents from an embedded filesystem or a directory,
//     with structured naming (`{id}_{name}.yaml`)
//   - Tracks migration history in a dedicated database table
//   - Applies each migration in its own transaction, after checking every
//     operation against the live schema
//   - Serializes concurrent runs with a store-specific lock
//
// Store-specific behavior (DDL rendering, catalog introspection, locking) is
// provided by a Dialect implementation.
package migrator
