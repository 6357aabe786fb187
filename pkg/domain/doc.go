/*
Package domain contains the data model shared by every audiencia component.

It is kept free of I/O. The authority owns the data; the client only holds
wholesale-replaced snapshots of it.

# Key Entities

  - Session / RoleAssignment: who is in which session, playing which role.
  - DialogueGraph / DialogueNode: the immutable script, one RoleFlow per role.
  - DialogueState / Participant: the volatile snapshot polled from the authority.
  - Event / Identity: what the sync engine publishes and what subscribers dedup on.
  - DialogueDiff / SessionDiff: field-level change detection between snapshots.
*/
package domain
