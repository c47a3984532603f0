package store

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"ex-mirror/pkg/mirror"
)

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	user := mirror.User{ID: 7, Nick: "alice", AccessHash: 77, HasAccessHash: true}
	group := mirror.Group{ID: 10, Title: "gophers", Type: mirror.PublicGroupType("gophers"), AccessHash: 1010, HasAccessHash: true}

	once := New()
	once.MergeUsers(user)
	once.MergeGroups(group)

	twice := New()
	twice.MergeUsers(user)
	twice.MergeUsers(user)
	twice.MergeGroups(group)
	twice.MergeGroups(group)

	gotOnce, _ := once.User(7)
	gotTwice, _ := twice.User(7)
	if gotOnce != gotTwice {
		t.Fatalf("user after two merges = %+v, want %+v", gotTwice, gotOnce)
	}
	groupOnce, _ := once.Group(10)
	groupTwice, _ := twice.Group(10)
	if groupOnce != groupTwice {
		t.Fatalf("group after two merges = %+v, want %+v", groupTwice, groupOnce)
	}
}

func TestMergeUsersKeepsAccessHash(t *testing.T) {
	t.Parallel()

	store := New()
	store.MergeUsers(mirror.User{ID: 7, Nick: "alice", AccessHash: 77, HasAccessHash: true})
	store.MergeUsers(mirror.User{ID: 7, Nick: "alice2"})

	got, ok := store.User(7)
	if !ok {
		t.Fatal("user missing")
	}
	if got.Nick != "alice2" {
		t.Fatalf("nick = %q, want alice2", got.Nick)
	}
	if !got.HasAccessHash || got.AccessHash != 77 {
		t.Fatalf("access hash = %d (has=%v), want 77", got.AccessHash, got.HasAccessHash)
	}

	store.MergeUsers(mirror.User{ID: 7, Nick: "alice2", AccessHash: 88, HasAccessHash: true})
	got, _ = store.User(7)
	if got.AccessHash != 88 {
		t.Fatalf("refreshed access hash = %d, want 88", got.AccessHash)
	}
}

func TestMergeGroupsTypeImmutableOnceKnown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		merges   []mirror.Group
		wantType mirror.GroupType
		wantHash int64
	}{
		{
			name: "unknown type becomes known",
			merges: []mirror.Group{
				{ID: 1, Title: "a"},
				{ID: 1, Title: "a", Type: mirror.PrivateGroupType()},
			},
			wantType: mirror.PrivateGroupType(),
		},
		{
			name: "known type is not replaced",
			merges: []mirror.Group{
				{ID: 1, Type: mirror.PrivateChannelType(), AccessHash: 5, HasAccessHash: true},
				{ID: 1, Type: mirror.PublicGroupType("x")},
			},
			wantType: mirror.PrivateChannelType(),
			wantHash: 5,
		},
		{
			name: "known type is not reset to unknown",
			merges: []mirror.Group{
				{ID: 1, Type: mirror.PublicChannelType("news")},
				{ID: 1, Type: mirror.GroupType{Kind: mirror.GroupKindUnknown}},
			},
			wantType: mirror.PublicChannelType("news"),
		},
		{
			name: "public shortname refresh keeps kind",
			merges: []mirror.Group{
				{ID: 1, Type: mirror.PublicGroupType("old")},
				{ID: 1, Type: mirror.PublicGroupType("new")},
			},
			wantType: mirror.PublicGroupType("new"),
		},
		{
			name:     "missing type defaults to unknown",
			merges:   []mirror.Group{{ID: 1}},
			wantType: mirror.GroupType{Kind: mirror.GroupKindUnknown},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			store := New()
			for _, group := range testCase.merges {
				store.MergeGroups(group)
			}

			got, ok := store.Group(1)
			if !ok {
				t.Fatal("group missing")
			}
			if got.Type != testCase.wantType {
				t.Fatalf("type = %+v, want %+v", got.Type, testCase.wantType)
			}
			if got.AccessHash != testCase.wantHash {
				t.Fatalf("access hash = %d, want %d", got.AccessHash, testCase.wantHash)
			}
		})
	}
}

func TestSetSelfOnlyOnce(t *testing.T) {
	t.Parallel()

	store := New()
	if _, ok := store.Self(); ok {
		t.Fatal("self set before SetSelf")
	}
	if err := store.SetSelf(mirror.User{ID: 1, Nick: "bot", IsBot: true, AccessHash: 11, HasAccessHash: true}); err != nil {
		t.Fatalf("SetSelf failed: %v", err)
	}
	err := store.SetSelf(mirror.User{ID: 2, Nick: "other"})
	if !errors.Is(err, mirror.ErrSelfAlreadySet) {
		t.Fatalf("second SetSelf error = %v, want ErrSelfAlreadySet", err)
	}

	self, ok := store.Self()
	if !ok || self.ID != 1 || self.Nick != "bot" {
		t.Fatalf("self = %+v, want bot with id 1", self)
	}
	if _, ok := store.User(1); !ok {
		t.Fatal("self should also be cached as a user")
	}
	if err := store.ApplyUpdate(mirror.UpdateEvent{
		Kind:       mirror.EventKindUserNickChanged,
		NickChange: &mirror.NickChange{UserID: 1, Nick: "renamed"},
	}); err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if self, _ := store.Self(); self.Nick != "bot" {
		t.Fatalf("self nick = %q, want unchanged bot", self.Nick)
	}
}

func TestMissingReferences(t *testing.T) {
	t.Parallel()

	store := New()
	store.MergeUsers(mirror.User{ID: 1})
	store.MergeGroups(mirror.Group{ID: 100})

	tests := []struct {
		name string
		refs []mirror.Ref
		want []mirror.Ref
	}{
		{
			name: "only uncached refs are returned",
			refs: []mirror.Ref{mirror.UserRef(1, 0), mirror.UserRef(2, 0), mirror.GroupRef(3, 0)},
			want: []mirror.Ref{mirror.UserRef(2, 0), mirror.GroupRef(3, 0)},
		},
		{
			name: "user and group ids do not collide",
			refs: []mirror.Ref{mirror.GroupRef(1, 0), mirror.UserRef(100, 0)},
			want: []mirror.Ref{mirror.GroupRef(1, 0), mirror.UserRef(100, 0)},
		},
		{
			name: "duplicates are collapsed",
			refs: []mirror.Ref{mirror.UserRef(2, 0), mirror.UserRef(2, 9)},
			want: []mirror.Ref{mirror.UserRef(2, 9)},
		},
		{
			name: "all cached",
			refs: []mirror.Ref{mirror.UserRef(1, 0), mirror.GroupRef(100, 0)},
			want: nil,
		},
		{
			name: "empty input",
			refs: nil,
			want: nil,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := store.MissingReferences(testCase.refs)
			if !reflect.DeepEqual(got, testCase.want) {
				t.Fatalf("missing = %+v, want %+v", got, testCase.want)
			}
		})
	}
}

func TestResolveOutPeer(t *testing.T) {
	t.Parallel()

	store := New()
	store.MergeUsers(
		mirror.User{ID: 1, AccessHash: 11, HasAccessHash: true},
		mirror.User{ID: 2},
	)
	store.MergeGroups(mirror.Group{ID: 10, AccessHash: 1010, HasAccessHash: true})

	tests := []struct {
		name           string
		peer           mirror.Peer
		want           mirror.OutPeer
		wantUnresolved bool
		wantInvalid    bool
	}{
		{
			name: "cached user",
			peer: mirror.UserPeer(1),
			want: mirror.OutPeer{Peer: mirror.UserPeer(1), AccessHash: 11},
		},
		{
			name: "cached group",
			peer: mirror.GroupPeer(10),
			want: mirror.OutPeer{Peer: mirror.GroupPeer(10), AccessHash: 1010},
		},
		{name: "never merged user", peer: mirror.UserPeer(3), wantUnresolved: true},
		{name: "never merged group", peer: mirror.GroupPeer(11), wantUnresolved: true},
		{name: "cached user without hash", peer: mirror.UserPeer(2), wantUnresolved: true},
		{name: "invalid peer", peer: mirror.Peer{Kind: "room", ID: 1}, wantInvalid: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, err := store.ResolveOutPeer(testCase.peer)
			switch {
			case testCase.wantUnresolved:
				if _, ok := mirror.AsUnresolvedReferenceError(err); !ok {
					t.Fatalf("error = %v, want UnresolvedReferenceError", err)
				}
				if got != (mirror.OutPeer{}) {
					t.Fatalf("out peer = %+v, want zero value on failure", got)
				}
			case testCase.wantInvalid:
				if !errors.Is(err, mirror.ErrInvalidPeer) {
					t.Fatalf("error = %v, want ErrInvalidPeer", err)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got != testCase.want {
					t.Fatalf("out peer = %+v, want %+v", got, testCase.want)
				}
			}
		})
	}
}

func TestMergeDialogsReplaces(t *testing.T) {
	t.Parallel()

	p1 := mirror.UserPeer(1)
	p2 := mirror.GroupPeer(2)
	p3 := mirror.GroupPeer(3)

	store := New()
	store.MergeDialogs([]mirror.Peer{p1, p3})
	store.MergeDialogs([]mirror.Peer{p1, p2, p1})

	got := store.Dialogs()
	want := []mirror.Peer{p1, p2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("dialogs = %v, want %v", got, want)
	}

	got[0] = p3
	if store.Dialogs()[0] != p1 {
		t.Fatal("Dialogs returned shared backing array")
	}
}

func TestGroupMembersAndParameters(t *testing.T) {
	t.Parallel()

	store := New()
	if _, ok := store.GroupMembers(5); ok {
		t.Fatal("roster present before merge")
	}

	store.MergeGroupMembers(5, []mirror.GroupMember{{UserID: 1}, {UserID: 2, IsAdmin: true}})
	list, ok := store.GroupMembers(5)
	if !ok || !list.Loaded || len(list.Members) != 2 {
		t.Fatalf("roster = %+v, want loaded with 2 members", list)
	}

	store.MergeParameters(map[string]string{"about": "a", "name": "n"})
	store.SetParameter("about", "b")
	if value, _ := store.Parameter("about"); value != "b" {
		t.Fatalf("about = %q, want b", value)
	}
	params := store.Parameters()
	params["name"] = "mutated"
	if value, _ := store.Parameter("name"); value != "n" {
		t.Fatal("Parameters returned shared map")
	}
}

func TestMergeGroupMembersSinceDetectsMembershipChange(t *testing.T) {
	t.Parallel()

	store := New()
	generation := store.RosterGeneration(500)

	// The change lands before any roster for the group is cached.
	if err := store.ApplyUpdate(mirror.UpdateEvent{
		Kind:       mirror.EventKindMembershipChanged,
		Membership: &mirror.MembershipChange{GroupID: 500, UserID: 8, Joined: true},
	}); err != nil {
		t.Fatalf("apply membership change failed: %v", err)
	}

	if store.MergeGroupMembersSince(500, generation, []mirror.GroupMember{{UserID: 7}}) {
		t.Fatal("roster fetched before the change was marked loaded")
	}
	if list, ok := store.GroupMembers(500); !ok || list.Loaded {
		t.Fatalf("roster = %+v, want present but not loaded", list)
	}

	current := store.RosterGeneration(500)
	if current == generation {
		t.Fatal("generation did not move")
	}
	if !store.MergeGroupMembersSince(500, current, []mirror.GroupMember{{UserID: 7}, {UserID: 8}}) {
		t.Fatal("fresh roster not marked loaded")
	}
	if list, _ := store.GroupMembers(500); !list.Loaded || len(list.Members) != 2 {
		t.Fatalf("roster = %+v, want loaded with 2 members", list)
	}
}

func TestFindByNickAndShortname(t *testing.T) {
	t.Parallel()

	store := New()
	store.MergeUsers(mirror.User{ID: 1, Nick: "Alice"})
	store.MergeGroups(
		mirror.Group{ID: 10, Type: mirror.PublicGroupType("Gophers")},
		mirror.Group{ID: 11, Type: mirror.PrivateGroupType()},
	)

	if user, ok := store.FindUserByNick("@alice"); !ok || user.ID != 1 {
		t.Fatalf("FindUserByNick = %+v, %v", user, ok)
	}
	if _, ok := store.FindUserByNick(""); ok {
		t.Fatal("empty nick matched")
	}
	if group, ok := store.FindGroupByShortname("gophers"); !ok || group.ID != 10 {
		t.Fatalf("FindGroupByShortname = %+v, %v", group, ok)
	}
	if _, ok := store.FindGroupByShortname("missing"); ok {
		t.Fatal("unknown shortname matched")
	}
}

func TestConcurrentReadsAndMerges(t *testing.T) {
	t.Parallel()

	store := New()
	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		worker := worker
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				store.MergeUsers(mirror.User{ID: int64(i%20 + 1), Nick: "n", AccessHash: int64(worker), HasAccessHash: true})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				store.MissingReferences([]mirror.Ref{mirror.UserRef(int64(i%20+1), 0)})
				_, _ = store.ResolveOutPeer(mirror.UserPeer(int64(i%20 + 1)))
			}
		}()
	}
	wg.Wait()

	if missing := store.MissingReferences([]mirror.Ref{mirror.UserRef(20, 0)}); len(missing) != 0 {
		t.Fatalf("missing after merges = %+v", missing)
	}
}
