// Package attachment stores the binary files attached to tasks.
//
// Files live under a single uploads root on an afero filesystem (the OS
// filesystem in production, an in-memory one in tests) and are named
// "<unix-nanos>-<uuid><ext>" so that client-supplied names never reach the
// filesystem. Deleting files is best-effort: failures are logged and never
// returned, so record mutations always proceed.
package attachment
