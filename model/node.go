package model

// Role classifies a node in the contact graph.
type Role string

const (
	RoleSpace  Role = "space"
	RoleGround Role = "ground"
	// RoleTarget marks a pseudo-node standing for an observable location.
	// Contacts toward a target node describe acquisition opportunities.
	RoleTarget Role = "target"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSpace, RoleGround, RoleTarget:
		return true
	}
	return false
}

// Node is a satellite, ground station or target location taking part in a run.
// Buffer occupancy is tracked by the node's buffer, not here.
type Node struct {
	ID   string
	Name string
	Role Role

	// StorageCapacity is the buffer size in bytes. Zero means unbounded.
	StorageCapacity int64

	// MaxContacts caps simultaneously active contacts where this node is the
	// sender. Zero means unbounded.
	MaxContacts int

	// CanAcquire marks nodes able to capture imagery.
	CanAcquire bool
}
