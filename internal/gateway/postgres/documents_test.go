package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"dabubble/internal/gateway"
	tu "dabubble/internal/testing"

	"github.com/caarlos0/env/v6"
	"github.com/jackc/pgtype"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildQuery(t *testing.T) {
	q := gateway.NewQuery(
		gateway.Where("channelId", gateway.OpEqual, "c1"),
		gateway.Where("authorId", gateway.OpIn, []string{"u1", "u2"}),
	).OrderByTime("createdAt", true).WithLimit(50)

	sql, args, err := buildQuery("messages", q)
	require.NoError(t, err)
	require.Equal(t, "select id, data from documents where collection = $1"+
		" and data -> $2::text = $3::jsonb"+
		" and $4::jsonb @> jsonb_build_array(data -> $5::text)"+
		" order by (data ->> $6::text)::timestamptz desc nulls last, seq desc"+
		" limit $7", sql)
	require.Len(t, args, 7)
	require.Equal(t, "channelId", args[1])
	require.Equal(t, `["u1","u2"]`, string(args[3].(pgtype.JSONB).Bytes))
}

func TestBuildQueryUnsupportedOperator(t *testing.T) {
	_, _, err := buildQuery("messages", gateway.NewQuery(gateway.Where("a", "!=", 1)))
	require.Error(t, err)
}

func TestDedupe(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, dedupe([]string{"a", "b", "a"}))
}

// bootstrap connects to the database described by PG_* variables, skipping when PG_HOST is unset
func bootstrap(t *testing.T) *Documents {
	if os.Getenv("PG_HOST") == "" {
		t.Skip("PG_HOST not set")
	}
	var cfg Config
	require.NoError(t, env.Parse(&cfg))

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	d, err := New(context.Background(), logger.Sugar(), cfg, ConnectionTimeout(5*time.Second))
	require.NoError(t, err)
	require.NoError(t, d.Migrate(context.Background()))
	t.Cleanup(d.Close)

	return d
}

type testDoc struct {
	Name      string    `json:"name"`
	AuthorID  string    `json:"authorId"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

func TestCreateGetUpdate(t *testing.T) {
	d := bootstrap(t)
	ctx := context.Background()
	collection := "test_" + tu.RandString()

	id, err := d.Create(ctx, collection, testDoc{Name: "a", AuthorID: "u1"})
	require.NoError(t, err)

	require.NoError(t, d.Update(ctx, collection, id, gateway.Fields{"name": "b"}))

	doc, err := d.Get(ctx, collection, id)
	require.NoError(t, err)
	var got testDoc
	require.NoError(t, doc.DataTo(&got))
	require.Equal(t, "b", got.Name)
	require.Equal(t, "u1", got.AuthorID)

	require.NoError(t, d.Delete(ctx, collection, id))
	_, err = d.Get(ctx, collection, id)
	require.Equal(t, gateway.ErrNotFound, err)
	require.Equal(t, gateway.ErrNotFound, d.Update(ctx, collection, id, gateway.Fields{"name": "c"}))
}

func TestQueryOrderLimit(t *testing.T) {
	d := bootstrap(t)
	ctx := context.Background()
	collection := "test_" + tu.RandString()
	base := time.Now()

	for i, author := range []string{"u1", "u2", "u3", "u1"} {
		_, err := d.Create(ctx, collection, testDoc{AuthorID: author, CreatedAt: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}

	q := gateway.NewQuery(gateway.Where("authorId", gateway.OpIn, []string{"u1", "u2"})).
		OrderByTime("createdAt", true).
		WithLimit(2)
	docs, err := d.Query(ctx, collection, q)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	var first, second testDoc
	require.NoError(t, docs[0].DataTo(&first))
	require.NoError(t, docs[1].DataTo(&second))
	require.Equal(t, "u1", first.AuthorID)
	require.Equal(t, "u2", second.AuthorID)
}

func TestArrayUnionRemove(t *testing.T) {
	d := bootstrap(t)
	ctx := context.Background()
	collection := "test_" + tu.RandString()

	require.NoError(t, d.Set(ctx, collection, "t1", testDoc{Members: []string{"u1"}}))
	require.NoError(t, d.ArrayUnion(ctx, collection, "t1", "members", "u2", "u1", "u2"))
	require.NoError(t, d.ArrayRemove(ctx, collection, "t1", "members", "u1"))

	doc, err := d.Get(ctx, collection, "t1")
	require.NoError(t, err)
	var got testDoc
	require.NoError(t, doc.DataTo(&got))
	require.Equal(t, []string{"u2"}, got.Members)

	require.Equal(t, gateway.ErrNotFound, d.ArrayRemove(ctx, collection, "missing", "members", "u1"))
}
