package bunny

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildRoster(t *testing.T) {
	a := Contact{ProfileID: "pa", Username: "alice", ChatGroupID: "ga"}
	b := Contact{ProfileID: "pb", Username: "bob", ChatGroupID: "gb"}
	c := Contact{ProfileID: "pc", Username: "carol", ChatGroupID: "gc"}

	t.Run("online first then username", func(t *testing.T) {
		got := BuildRoster([]Contact{c, a, b}, []string{"pb"})
		require.Equal(t, []RosterEntry{
			{Contact: b, Status: StatusOnline},
			{Contact: a, Status: StatusOffline},
			{Contact: c, Status: StatusOffline},
		}, got)
	})

	t.Run("unknown online ids are ignored", func(t *testing.T) {
		got := BuildRoster([]Contact{a}, []string{"nobody"})
		require.Equal(t, []RosterEntry{{Contact: a, Status: StatusOffline}}, got)
	})

	t.Run("empty", func(t *testing.T) {
		require.Empty(t, BuildRoster(nil, []string{"pa"}))
	})
}

func TestRoster(t *testing.T) {
	r := NewRoster()
	var snapshots [][]RosterEntry
	cancel := r.Entries().Subscribe(func(e []RosterEntry) { snapshots = append(snapshots, e) })
	defer cancel()

	alice := Contact{ProfileID: "pa", Username: "alice", ChatGroupID: "ga"}
	bob := Contact{ProfileID: "pb", Username: "bob", ChatGroupID: "gb"}

	r.SetContacts([]Contact{alice, bob})
	r.SetOnline([]string{"pb"})
	r.SetOnline(nil)

	require.Len(t, snapshots, 4, "one snapshot per input change")
	require.Equal(t, StatusOnline, snapshots[2][0].Status)
	require.Equal(t, "bob", snapshots[2][0].Username)
	require.Equal(t, "alice", snapshots[3][0].Username)

	got, ok := r.Lookup("gb")
	require.True(t, ok)
	require.Equal(t, bob, got)
	_, ok = r.Lookup("gz")
	require.False(t, ok)

	r.SetOnline([]string{"pa"})
	require.True(t, r.IsOnline("pa"))

	r.Reset()
	require.Empty(t, r.Entries().Get())
	require.Empty(t, r.Contacts().Get())
	require.Empty(t, r.OnlineIDs().Get())
}
