// Package store declares the persistence contracts for users and tasks,
// their sentinel errors, and the task listing query model (filters, sort
// allow-list, pagination) shared by every implementation.
package store
