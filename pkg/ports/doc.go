/*
Package ports defines the driven ports (interfaces) of the audiencia client.

These interfaces decouple the synchronization core from transports and storage.

# Key Interfaces

  - AuthorityClient: the request/response contract with the remote session authority.
  - SnapshotStore: mirrors the cached session/dialogue snapshots (memory, file, Redis).
  - DistributedLocker: lets several clients agree on who answers for an absent role.
*/
package ports
