/*
Package syncengine keeps a local mirror of one session in step with the authority.

The Engine runs two scheduled tasks under a session context:

  - poll: fetches dialogue state, participants and session metadata in that order, runs change
    detection on each and publishes DialogueChanged, ParticipantsChanged, SessionChanged,
    DialogueLoaded and TurnChanged only when something observable changed.
  - heartbeat: reports liveness with the client metadata.

Every failure, from either task, increments one shared counter and publishes SyncError. When
the counter reaches MaxRetries the poll task publishes Reconnecting, waits ReconnectDelay,
resets the counter and publishes Reconnected. Any successful fetch resets the counter.

Stop cancels both tasks, waits for them, and only then clears the caches; results that arrive
after Stop are discarded.
*/
package syncengine
