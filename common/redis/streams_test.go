package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAndReadStream(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	_, err := PublishJSONToStream(ctx, client, "forgecore:audit", map[string]int{"seq": 1}, 0)
	require.NoError(t, err)
	_, err = PublishJSONToStream(ctx, client, "forgecore:audit", map[string]int{"seq": 2}, 100)
	require.NoError(t, err)

	msgs, err := ReadStreamRange(ctx, client, "forgecore:audit")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"seq":1}`, msgs[0].Data)
	assert.JSONEq(t, `{"seq":2}`, msgs[1].Data)
}

func TestReadStreamRange_Empty(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	msgs, err := ReadStreamRange(context.Background(), client, "missing")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
