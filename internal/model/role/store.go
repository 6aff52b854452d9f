package role

// Store exposes role profile retrieval for handlers and the dispatcher.
type Store interface {
	List() []Profile
	Find(name Name) (Profile, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Profile
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied profiles.
func NewMemoryStore(items []Profile) *MemoryStore {
	return &MemoryStore{items: append([]Profile(nil), items...)}
}

// WithInstructions returns a copy of profiles whose instructions are replaced
// by the non-empty entries of overrides, keyed by role name.
func WithInstructions(items []Profile, overrides map[string]string) []Profile {
	out := append([]Profile(nil), items...)
	for i := range out {
		if text, ok := overrides[string(out[i].Name)]; ok && text != "" {
			out[i].Instruction = text
		}
	}
	return out
}

// List returns the profiles in routing priority order.
func (s *MemoryStore) List() []Profile {
	return append([]Profile(nil), s.items...)
}

// Find looks up a profile by role name.
func (s *MemoryStore) Find(name Name) (Profile, bool) {
	for _, item := range s.items {
		if item.Name == name {
			return item, true
		}
	}
	return Profile{}, false
}
