// Package context holds the objects shared by every command: the filesystem,
// streams, logger, configuration and database handle.
//
// It's separate from the app package so that cli can depend on it without an
// import cycle.
package context
