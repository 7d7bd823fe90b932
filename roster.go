package bunny

import (
	"cmp"
	"slices"
	"sync"
)

// BuildRoster annotates contacts with their presence and sorts them online
// first, then by username. Ties keep contact order after a profile id
// comparison.
func BuildRoster(contacts []Contact, onlineIDs []string) []RosterEntry {
	online := make(map[string]struct{}, len(onlineIDs))
	for _, id := range onlineIDs {
		online[id] = struct{}{}
	}

	entries := make([]RosterEntry, 0, len(contacts))
	for _, c := range contacts {
		status := StatusOffline
		if _, ok := online[c.ProfileID]; ok {
			status = StatusOnline
		}
		entries = append(entries, RosterEntry{Contact: c, Status: status})
	}

	slices.SortStableFunc(entries, func(a, b RosterEntry) int {
		if a.Status != b.Status {
			if a.Status == StatusOnline {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(a.Username, b.Username); c != 0 {
			return c
		}
		return cmp.Compare(a.ProfileID, b.ProfileID)
	})
	return entries
}

// Roster derives the presence-annotated contact list from the raw contact
// list and the online-id set. It has no mutation path of its own.
type Roster struct {
	mu       sync.Mutex
	contacts *Value[[]Contact]
	online   *Value[[]string]
	entries  *Value[[]RosterEntry]
}

func NewRoster() *Roster {
	return &Roster{
		contacts: NewValue[[]Contact](nil),
		online:   NewValue[[]string](nil),
		entries:  NewValue[[]RosterEntry](nil),
	}
}

// SetContacts replaces the contact list.
func (r *Roster) SetContacts(contacts []Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts.Set(slices.Clone(contacts))
	r.recomputeLocked()
}

// SetOnline replaces the online-id set.
func (r *Roster) SetOnline(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online.Set(slices.Clone(ids))
	r.recomputeLocked()
}

// Reset empties both inputs.
func (r *Roster) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts.Set(nil)
	r.online.Set(nil)
	r.recomputeLocked()
}

func (r *Roster) recomputeLocked() {
	r.entries.Set(BuildRoster(r.contacts.Get(), r.online.Get()))
}

// Lookup returns the contact of a conversation.
func (r *Roster) Lookup(chatGroupID string) (Contact, bool) {
	for _, c := range r.contacts.Get() {
		if c.ChatGroupID == chatGroupID {
			return c, true
		}
	}
	return Contact{}, false
}

// IsOnline reports whether profileID is in the online set.
func (r *Roster) IsOnline(profileID string) bool {
	return slices.Contains(r.online.Get(), profileID)
}

func (r *Roster) Contacts() Observable[[]Contact] { return r.contacts }
func (r *Roster) OnlineIDs() Observable[[]string] { return r.online }
func (r *Roster) Entries() Observable[[]RosterEntry] { return r.entries }
