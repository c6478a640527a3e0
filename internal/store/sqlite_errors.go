package store

import "strings"

// isSQLiteBusyError checks if the error is a SQLITE_BUSY error.
// This occurs when the database is locked by another connection.
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// isSQLiteLockedError checks if the error is a "database is locked" error.
// This is another form of SQLite concurrency error.
func isSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// isSQLiteConflictError checks if the error is either a SQLITE_BUSY
// or "database is locked" error. These both warrant retry logic.
func isSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	return isSQLiteBusyError(err) || isSQLiteLockedError(err)
}
