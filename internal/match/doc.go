// Package match holds the in-memory core of the relay server: the registry
// of live player connections, the matchmaking queue, the registry of active
// game sessions, and the engine that relays moves and ends games.
//
// Queue state is owned by a single goroutine (Queue.Run), which also creates
// the sessions it pairs, so two concurrent join requests can never pair the
// same identity twice. The two registries are guarded by their own locks.
// Collaborator calls (token validation, result recording) never run under
// those locks or on the queue goroutine.
package match
