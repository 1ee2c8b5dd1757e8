// Package postgres implements the store interfaces on PostgreSQL through
// database/sql and the pgx driver. Users, tasks and task documents live in
// their own tables; the schema is embedded as goose migrations.
package postgres
