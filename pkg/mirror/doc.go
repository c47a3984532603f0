// Package mirror defines the neutral contracts shared by the state mirror:
// cached entities, peers and references, update events, the remote service
// boundary, and the error taxonomy.
//
// The package carries no transport code. Backends (see internal/driver) map
// their wire types into these values, and internal/bot composes them into a
// bootstrap-gated client.
package mirror
