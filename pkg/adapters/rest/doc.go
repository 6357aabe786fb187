/*
Package rest maps ports.AuthorityClient onto HTTP/JSON.

Client talks to a remote authority; NewHandler serves any AuthorityClient with the same
contract, which is how the in-process memory authority is exposed by "audiencia mock-authority".

Routes (all under /v1):

	GET  /users/{userID}/active-session
	GET  /sessions/by-code/{code}
	GET  /sessions/{sessionID}
	GET  /sessions/{sessionID}/assignments/{userID}
	POST /sessions/{sessionID}/assignments/{assignmentID}/confirm
	GET  /sessions/{sessionID}/dialogue
	GET  /sessions/{sessionID}/state
	GET  /sessions/{sessionID}/participants
	GET  /sessions/{sessionID}/responses/{userID}
	POST /sessions/{sessionID}/decisions
	POST /sessions/{sessionID}/heartbeat

Errors travel as {"code": "...", "message": "..."} with 404, 409, 422 or 5xx statuses.
*/
package rest
