package model

// Mutation is a proposed graph change. Agents only propose; the saver commits.
// The set of variants is closed: every implementation lives in this file.
type Mutation interface {
	// LockKey names the key serialized while the mutation is applied.
	LockKey() string
	mutation()
}

// ProjectStatus marks a Project entity as blocked.
type ProjectStatus struct {
	EntityKey      string
	Status         string
	BlockingPhrase string
	ThoughtID      string
}

// LinkStrength increments the user's tie to a Person.
type LinkStrength struct {
	PersonKey string
	Delta     float64
}

// SuggestedConnections merges co-occurring people into a Person's suggestion set.
type SuggestedConnections struct {
	PersonKey   string
	Suggestions []string
}

// NewActionItem records an obligation implied by a thought.
type NewActionItem struct {
	Item ActionItem
}

// PersonProfileUpdate overwrites a person profile.
type PersonProfileUpdate struct {
	Profile PersonProfile
}

// ProjectProfileUpdate overwrites a project profile.
type ProjectProfileUpdate struct {
	Profile ProjectProfile
}

func (m ProjectStatus) LockKey() string        { return m.EntityKey }
func (m LinkStrength) LockKey() string         { return m.PersonKey }
func (m SuggestedConnections) LockKey() string { return m.PersonKey }
func (m NewActionItem) LockKey() string        { return "action:" + m.Item.ID }
func (m PersonProfileUpdate) LockKey() string  { return m.Profile.EntityKey }
func (m ProjectProfileUpdate) LockKey() string { return m.Profile.EntityKey }

func (ProjectStatus) mutation()        {}
func (LinkStrength) mutation()         {}
func (SuggestedConnections) mutation() {}
func (NewActionItem) mutation()        {}
func (PersonProfileUpdate) mutation()  {}
func (ProjectProfileUpdate) mutation() {}
