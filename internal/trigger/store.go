package trigger

import "sync"

// Store is the in-memory index of active triggers. Triggers are held in
// an arena keyed by id, with secondary indices by instrument and by OCO
// parent. It is the only shared mutable state in the engine; every other
// component is a stateless transformer.
type Store struct {
	mu           sync.RWMutex
	byID         map[string]*Trigger
	byInstrument map[uint32]map[string]struct{}
	byParent     map[string]map[string]struct{}
	inFlight     map[string]struct{}
	claims       map[string][]string
}

// NewStore creates an empty trigger store.
func NewStore() *Store {
	return &Store{
		byID:         make(map[string]*Trigger),
		byInstrument: make(map[uint32]map[string]struct{}),
		byParent:     make(map[string]map[string]struct{}),
		inFlight:     make(map[string]struct{}),
		claims:       make(map[string][]string),
	}
}

// Add inserts or replaces a trigger. Two-leg triggers are additionally
// registered under their OCO parent.
func (s *Store) Add(t Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byID[t.ID]; ok {
		s.removeLocked(old.ID)
	}

	cp := t
	s.byID[t.ID] = &cp

	ids, ok := s.byInstrument[t.InstrumentToken]
	if !ok {
		ids = make(map[string]struct{})
		s.byInstrument[t.InstrumentToken] = ids
	}
	ids[t.ID] = struct{}{}

	if t.ConditionType == ConditionTwoLeg && t.ParentID != "" {
		group, ok := s.byParent[t.ParentID]
		if !ok {
			group = make(map[string]struct{})
			s.byParent[t.ParentID] = group
		}
		group[t.ID] = struct{}{}
	}
}

// Remove deletes a trigger from every index, including its OCO group and
// any in-flight claim. Removing an absent id is a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *Store) removeLocked(id string) {
	t, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	delete(s.inFlight, id)

	if ids, ok := s.byInstrument[t.InstrumentToken]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.byInstrument, t.InstrumentToken)
		}
	}
	if t.ParentID != "" {
		if group, ok := s.byParent[t.ParentID]; ok {
			delete(group, id)
			if len(group) == 0 {
				delete(s.byParent, t.ParentID)
			}
		}
	}
}

// Get returns a copy of the trigger with the given id.
func (s *Store) Get(id string) (Trigger, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return Trigger{}, false
	}
	return *t, true
}

// TriggersFor returns copies of the active triggers registered for an
// instrument. The copies are a consistent snapshot; later mutations of
// the store do not affect them.
func (s *Store) TriggersFor(token uint32) []Trigger {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.byInstrument[token]
	if !ok {
		return nil
	}
	out := make([]Trigger, 0, len(ids))
	for id := range ids {
		t := s.byID[id]
		if t.Status == StatusActive {
			out = append(out, *t)
		}
	}
	return out
}

// TryMarkInFlight atomically claims a trigger for execution. For a
// two-leg trigger the claim covers the whole group: the sibling is
// marked in flight too, so it cannot fire while this leg's order is
// being placed. It returns false if the trigger is no longer in the
// store or any leg of its group is already claimed. This check-and-set
// is the sole guard against double execution.
func (s *Store) TryMarkInFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return false
	}
	members := []string{id}
	if t.ParentID != "" {
		for gid := range s.byParent[t.ParentID] {
			if gid != id {
				members = append(members, gid)
			}
		}
	}
	for _, m := range members {
		if _, claimed := s.inFlight[m]; claimed {
			return false
		}
	}
	for _, m := range members {
		s.inFlight[m] = struct{}{}
	}
	s.claims[id] = members
	return true
}

// UnmarkInFlight releases an execution claim, including the sibling
// marks taken with it.
func (s *Store) UnmarkInFlight(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if members, ok := s.claims[id]; ok {
		for _, m := range members {
			delete(s.inFlight, m)
		}
		delete(s.claims, id)
		return
	}
	delete(s.inFlight, id)
}

// OCOSibling returns the other leg of a two-leg trigger, provided the
// group still has exactly two members.
func (s *Store) OCOSibling(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[id]
	if !ok || t.ParentID == "" {
		return "", false
	}
	group := s.byParent[t.ParentID]
	if len(group) != 2 {
		return "", false
	}
	for other := range group {
		if other != id {
			return other, true
		}
	}
	return "", false
}

// SubscribedInstruments returns every instrument that currently has at
// least one trigger registered.
func (s *Store) SubscribedInstruments() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uint32, 0, len(s.byInstrument))
	for token := range s.byInstrument {
		out = append(out, token)
	}
	return out
}

// HasInstrument reports whether any trigger is registered for the token.
func (s *Store) HasInstrument(token uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byInstrument[token]
	return ok
}

// Len returns the number of triggers in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
