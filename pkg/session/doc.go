/*
Package session owns everything that is scoped to one joined session.

Scope bundles the collaborators that the original design kept as process-wide singletons
(authority client, user identity, event bus, dedup guard, logger, metrics) and is passed
explicitly to every per-session component.

Connector implements the join handshake: resolve a code, fetch the role assignment, let the
user confirm or reject it, and announce SessionJoined exactly once. It never retries on its own.

Manager serializes access to persisted snapshots per session, optionally across processes
through a ports.DistributedLocker.
*/
package session
