package types

// Status is a type for the lifecycle status of a resource row in the database.
// It tracks whether a row should be visible to queries and is orthogonal to
// any domain status the entity itself carries.
type Status string

const (
	StatusPublished Status = "published"
	StatusDeleted   Status = "deleted"
	StatusArchived  Status = "archived"
)

func (s Status) String() string {
	return string(s)
}
