package domain

// Person is someone tasks are recorded for. A person belongs to exactly one role and any number
// of groups inside it.
type Person struct {
	ID       string
	RoleID   string
	GroupIDs []string
}

// InGroup reports whether the person is a member of groupID.
func (p *Person) InGroup(groupID string) bool {
	for _, g := range p.GroupIDs {
		if g == groupID {
			return true
		}
	}
	return false
}
