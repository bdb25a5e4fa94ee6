package types

// Status is a type for the lifecycle status of a stored resource.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDeleted  Status = "deleted"
)

// Metadata represents additional key-value pairs carried on a resource
type Metadata map[string]string
