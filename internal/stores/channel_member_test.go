package stores

import (
	"context"
	"sync"
	"testing"

	"dabubble/internal/gateway"
	"dabubble/internal/models"

	"github.com/stretchr/testify/require"
)

// wholeArrayDocs hides gateway.ArrayMutator so membership changes take the
// fetch, compute, write back path
type wholeArrayDocs struct {
	gateway.Documents
}

// barrierDocs holds every Get until the expected number of reads happened, so that
// racing commands all read the same version before any of them writes
type barrierDocs struct {
	gateway.Documents
	reads *sync.WaitGroup
}

func (d barrierDocs) Get(ctx context.Context, collection, id string) (gateway.Document, error) {
	doc, err := d.Documents.Get(ctx, collection, id)
	d.reads.Done()
	d.reads.Wait()
	return doc, err
}

func createChannel(t *testing.T, f fixture, members ...string) models.Channel {
	c, err := f.set.Channel.CreateChannel(context.Background(), models.CreateChannelRequest{Name: "room", Members: members}, "creator")
	require.NoError(t, err)
	return c
}

func storedChannel(t *testing.T, docs gateway.Documents, id string) models.Channel {
	doc, err := docs.Get(context.Background(), gateway.CollectionChannels, id)
	require.NoError(t, err)
	c, err := decodeChannel(doc)
	require.NoError(t, err)
	return c
}

func TestAddRemoveMemberRoundTrip(t *testing.T) {
	for name, wrap := range map[string]func(gateway.Documents) gateway.Documents{
		"atomic":      func(d gateway.Documents) gateway.Documents { return d },
		"whole array": func(d gateway.Documents) gateway.Documents { return wholeArrayDocs{d} },
	} {
		t.Run(name, func(t *testing.T) {
			f := bootstrap(t)
			ctx := context.Background()
			c := createChannel(t, f, "u2")
			s := NewChannelMemberStore(testLogger(t), wrap(f.docs))

			require.NoError(t, s.AddMember(ctx, c.ID, "u9"))
			require.True(t, s.IsUserMember(ctx, c.ID, "u9"))

			// adding twice does not duplicate
			require.NoError(t, s.AddMember(ctx, c.ID, "u9"))
			require.Equal(t, 1, count(storedChannel(t, f.docs, c.ID).Members, "u9"))

			require.NoError(t, s.RemoveMember(ctx, c.ID, "u9"))
			require.ElementsMatch(t, c.Members, storedChannel(t, f.docs, c.ID).Members)
			require.False(t, s.IsUserMember(ctx, c.ID, "u9"))
		})
	}
}

func TestAdmins(t *testing.T) {
	f := bootstrap(t)
	ctx := context.Background()
	c := createChannel(t, f, "u2")
	s := f.set.ChannelMember

	require.NoError(t, s.AddAdmin(ctx, c.ID, "u2"))
	require.True(t, s.IsUserAdmin(ctx, c.ID, "u2"))

	members, err := s.Members(ctx, c.ID)
	require.NoError(t, err)
	roles := map[string]models.Role{}
	for _, m := range members {
		require.Equal(t, c.ID, m.ChannelID)
		roles[m.UID] = m.Role
	}
	require.Equal(t, map[string]models.Role{"u2": models.RoleAdmin, "creator": models.RoleAdmin}, roles)

	require.NoError(t, s.RemoveAdmin(ctx, c.ID, "u2"))
	require.False(t, s.IsUserAdmin(ctx, c.ID, "u2"))
	require.True(t, s.IsUserMember(ctx, c.ID, "u2"))
}

func TestRemoveMemberKeepsAdmin(t *testing.T) {
	f := bootstrap(t)
	ctx := context.Background()
	c := createChannel(t, f, "u2")
	s := f.set.ChannelMember

	require.NoError(t, s.AddAdmin(ctx, c.ID, "u2"))
	require.NoError(t, s.RemoveMember(ctx, c.ID, "u2"))

	require.False(t, s.IsUserMember(ctx, c.ID, "u2"))
	require.True(t, s.IsUserAdmin(ctx, c.ID, "u2"))
}

func TestMemberChannelNotFound(t *testing.T) {
	f := bootstrap(t)
	ctx := context.Background()

	for _, s := range []*ChannelMemberStore{
		f.set.ChannelMember,
		NewChannelMemberStore(testLogger(t), wholeArrayDocs{f.docs}),
	} {
		err := s.AddMember(ctx, "missing", "u1")
		require.Equal(t, ErrChannelNotFound, err)
		require.ErrorIs(t, err, gateway.ErrNotFound)
		st := s.State()
		require.Equal(t, "channel not found", st.Error)
		require.False(t, st.IsLoading)

		require.False(t, s.IsUserMember(ctx, "missing", "u1"))
	}
}

func TestConcurrentAdminUpdatesLoseOne(t *testing.T) {
	f := bootstrap(t)
	ctx := context.Background()
	c := createChannel(t, f, "x", "y")
	require.NoError(t, f.set.ChannelMember.AddAdmin(ctx, c.ID, "y"))

	reads := &sync.WaitGroup{}
	reads.Add(2)
	racing := barrierDocs{Documents: wholeArrayDocs{f.docs}, reads: reads}
	clientA := NewChannelMemberStore(testLogger(t), racing)
	clientB := NewChannelMemberStore(testLogger(t), racing)

	errs := make(chan error, 2)
	go func() { errs <- clientA.AddAdmin(ctx, c.ID, "x") }()
	go func() { errs <- clientB.RemoveAdmin(ctx, c.ID, "y") }()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	admins := storedChannel(t, f.docs, c.ID).Admins
	onlyA := []string{"creator", "y", "x"}
	onlyB := []string{"creator"}
	require.True(t, equalIDs(admins, onlyA) || equalIDs(admins, onlyB), "admins %v", admins)
	require.False(t, equalIDs(admins, []string{"creator", "x"}))
}

func TestConcurrentAdminUpdatesAtomic(t *testing.T) {
	f := bootstrap(t)
	ctx := context.Background()
	c := createChannel(t, f, "x", "y")
	require.NoError(t, f.set.ChannelMember.AddAdmin(ctx, c.ID, "y"))

	clientA := NewChannelMemberStore(testLogger(t), f.docs)
	clientB := NewChannelMemberStore(testLogger(t), f.docs)

	errs := make(chan error, 2)
	go func() { errs <- clientA.AddAdmin(ctx, c.ID, "x") }()
	go func() { errs <- clientB.RemoveAdmin(ctx, c.ID, "y") }()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	require.ElementsMatch(t, []string{"creator", "x"}, storedChannel(t, f.docs, c.ID).Admins)
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
