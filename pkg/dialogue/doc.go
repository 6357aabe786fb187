/*
Package dialogue turns the mirrored dialogue snapshots into what a participant can do.

Machine follows the local user's turn: it presents the options of the current node once,
guards selection and submission, and blocks after a stale-turn rejection until a fresh
snapshot arrives. Fallback answers for roles that no connected human plays, so a session
never stalls on an empty seat.

Both consume a Mirror, which syncengine.Engine satisfies.
*/
package dialogue
