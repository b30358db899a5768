// Package presence tracks which agents are online.
//
// The tracker is fed by two sources: the initial agents fetch (which also
// carries names) and the presence push feed, whose frames list the whole
// tenant with id and is_online only. Every Update replaces the online set
// wholesale; agents missing from the latest payload are offline.
//
// Names live in a separate directory that only changes when a payload
// entry carries profile fields, so a presence frame never erases a name.
//
// Subscribers receive a notification after each update and re-read the
// tracker. Notifications coalesce the same way store snapshots do.
package presence
