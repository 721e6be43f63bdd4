// Package session owns one live session per broadcast: viewer membership,
// stream metrics, and the credentials handed to the platform relay.
//
// The session manager is a leaf component. It knows nothing about
// scheduling; the broadcast scheduler drives it through create/start/stop and
// consumes its lifecycle events for analytics synthesis.
//
// The viewer set and the derived viewer count are one unit of
// synchronization: both are only ever updated together under the session
// mutex.
package session
