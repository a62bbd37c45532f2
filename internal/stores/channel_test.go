package stores

import (
	"context"
	"testing"

	"dabubble/internal/gateway"
	"dabubble/internal/models"

	"github.com/stretchr/testify/require"
)

func count(ids []string, v string) int {
	n := 0
	for _, id := range ids {
		if id == v {
			n++
		}
	}
	return n
}

func TestCreateChannelCreatorOnce(t *testing.T) {
	f := bootstrap(t)
	ctx := context.Background()

	for _, members := range [][]string{
		nil,
		{"u2"},
		{"u1", "u2"},
		{"u2", "u1", "u1"},
	} {
		c, err := f.set.Channel.CreateChannel(ctx, models.CreateChannelRequest{Name: "general", Members: members}, "u1")
		require.NoError(t, err)
		require.NotEmpty(t, c.ID)
		require.Equal(t, 1, count(c.Members, "u1"), "members %v", members)
		require.Equal(t, []string{"u1"}, c.Admins)

		stored, err := f.docs.Get(ctx, gateway.CollectionChannels, c.ID)
		require.NoError(t, err)
		got, err := decodeChannel(stored)
		require.NoError(t, err)
		require.Equal(t, 1, count(got.Members, "u1"))
		require.Equal(t, 1, count(got.Admins, "u1"))
	}
	require.Equal(t, 4, f.set.Channel.ChannelCount())
}

func TestLoadChannels(t *testing.T) {
	f := bootstrap(t)
	ctx := context.Background()

	_, err := f.set.Channel.CreateChannel(ctx, models.CreateChannelRequest{Name: "a", Members: []string{"u2"}}, "u1")
	require.NoError(t, err)
	_, err = f.set.Channel.CreateChannel(ctx, models.CreateChannelRequest{Name: "b", IsPrivate: true}, "u3")
	require.NoError(t, err)

	other := NewChannelStore(testLogger(t), f.docs)
	require.NoError(t, other.LoadChannels(ctx, "u2"))
	require.Equal(t, 2, other.ChannelCount())
	require.Equal(t, 1, other.UserChannelCount())
	require.Len(t, other.PublicChannels(), 1)
	require.Len(t, other.PrivateChannels(), 1)
	require.Equal(t, "b", other.PrivateChannels()[0].Name)

	require.NoError(t, other.LoadChannels(ctx, ""))
	require.Equal(t, 0, other.UserChannelCount())
}

func TestUpdateChannel(t *testing.T) {
	f := bootstrap(t)
	ctx := context.Background()

	c, err := f.set.Channel.CreateChannel(ctx, models.CreateChannelRequest{Name: "a"}, "u1")
	require.NoError(t, err)
	f.set.Channel.SelectChannel(&c)

	name := "renamed"
	require.NoError(t, f.set.Channel.UpdateChannel(ctx, c.ID, models.ChannelUpdate{Name: &name}))

	got, ok := f.set.Channel.ChannelByID(c.ID)
	require.True(t, ok)
	require.Equal(t, "renamed", got.Name)
	require.Equal(t, "renamed", f.set.Channel.State().SelectedChannel.Name)

	err = f.set.Channel.UpdateChannel(ctx, "missing", models.ChannelUpdate{Name: &name})
	require.Equal(t, ErrChannelNotFound, err)
	require.Equal(t, "channel not found", f.set.Channel.State().Error)
}

func TestChannelSnapshotIsImmutable(t *testing.T) {
	f := bootstrap(t)

	_, err := f.set.Channel.CreateChannel(context.Background(), models.CreateChannelRequest{Name: "a"}, "u1")
	require.NoError(t, err)

	st := f.set.Channel.State()
	st.Channels[0].Members[0] = "changed"
	st.Channels[0].Name = "changed"

	again := f.set.Channel.State()
	require.Equal(t, "u1", again.Channels[0].Members[0])
	require.Equal(t, "a", again.Channels[0].Name)
}
