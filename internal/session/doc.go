// Package session persists the operator's console selection between runs:
// the open conversation, the list tab and the search text.
//
// State lives in a small SQLite database (modernc.org/sqlite, no cgo) at
// session.state_path, one row per operator. The console loads it once at
// startup, saves it whenever the operator selects something and deletes it
// on sign-out.
package session
