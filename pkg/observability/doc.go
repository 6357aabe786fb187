/*
Package observability exposes the client's Prometheus metrics.

Metrics cover the sync loop (cycles, fetch failures per entity, skipped ticks, reconnects,
heartbeats), change detection (events published per type, duplicates absorbed) and the
dialogue (decisions submitted by humans and bots, stale-turn rejections).

A nil *Metrics is valid and records nothing, so components can take one optionally.
*/
package observability
