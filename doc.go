/*
Package audiencia is a client for multi-participant courtroom role-play sessions.

A session lives on a remote authority that owns the dialogue graph, the current node and
whose turn it is. The client joins a session by code, confirms the role it was assigned and
then keeps a local mirror of the session synchronized by polling, while the local participant
takes turns choosing response options.

# Components

  - session.Connector runs the join handshake (code, role, confirmation).
  - syncengine.Engine polls the authority, detects changes and publishes events.
  - dialogue.Machine turns those events into the local participant's turn state.
  - dialogue.Fallback answers for roles nobody is playing.
  - dedup.Guard makes every event consumer idempotent.

Client wires all of them for one user:

	c := audiencia.New(authority, userID, audiencia.WithPresenter(render))
	c.Start(ctx)
	defer c.Close()

	if _, _, err := c.Join(ctx, "ABC123"); err != nil {
		return err
	}
	if _, err := c.Confirm(ctx); err != nil {
		return err
	}
	// render is called on every turn change; answer with Select and Submit.

The authority is any ports.AuthorityClient: rest.Client for a remote HTTP authority or
memory.Authority for an in-process one.
*/
package audiencia
