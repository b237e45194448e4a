package domain

// Role says which side of a peer pair initiates the description exchange.
// Fixed at session creation: the member already in the room offers to the
// newcomer, the newcomer answers. One offerer and one answerer per pair,
// regardless of message arrival order, which is what keeps glare out.
type Role string

const (
	RoleOfferer  Role = "offerer"
	RoleAnswerer Role = "answerer"
)

// LinkState is the lifecycle of one peer link as seen by the session manager.
type LinkState string

const (
	LinkNew          LinkState = "new"
	LinkNegotiating  LinkState = "negotiating"
	LinkConnected    LinkState = "connected"
	LinkDegraded     LinkState = "degraded"
	LinkReconnecting LinkState = "reconnecting"
	LinkClosed       LinkState = "closed"
)
