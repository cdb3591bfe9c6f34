package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shard struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func completedTicket(payload string, err error) *Ticket {
	t := newTicket("q=test", CategoryGeneric, time.Now(), "api", nil)
	t.complete([]byte(payload), err)
	return t
}

func TestAwaitTimeoutIsDistinct(t *testing.T) {
	t.Parallel()
	pending := newTicket("q=never", CategoryGeneric, time.Now(), "api", nil)

	_, err := Await(context.Background(), pending, 10*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAwaitTimeout)
	assert.NotErrorIs(t, err, ErrDeserialization)
	assert.False(t, pending.Completed())
}

func TestAwaitHonorsContext(t *testing.T) {
	t.Parallel()
	pending := newTicket("q=never", CategoryGeneric, time.Now(), "api", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Await(ctx, pending, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAwaitJSON(t *testing.T) {
	t.Parallel()
	got, err := AwaitJSON[shard](context.Background(), completedTicket(`{"name":"lazarus","count":3}`, nil), time.Second)
	require.NoError(t, err)
	assert.Equal(t, shard{Name: "lazarus", Count: 3}, got)
}

func TestAwaitDecodedSchemaMismatch(t *testing.T) {
	t.Parallel()
	tk := completedTicket(`{"name":42}`, nil)
	_, err := AwaitJSON[shard](context.Background(), tk, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeserialization)
	assert.NotErrorIs(t, err, ErrAwaitTimeout)

	var de *DeserializationError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, tk.ID, de.TicketID)
}

func TestAwaitPassesCallError(t *testing.T) {
	t.Parallel()
	boom := errors.New("upstream 500")
	_, err := AwaitJSON[shard](context.Background(), completedTicket("", boom), time.Second)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrDeserialization)
}

func TestTicketResultBeforeCompletion(t *testing.T) {
	t.Parallel()
	tk := newTicket("x", CategoryGeneric, time.Now(), "api", nil)
	p, err := tk.Result()
	assert.Nil(t, p)
	assert.NoError(t, err)

	tk.complete([]byte("one"), nil)
	tk.complete([]byte("two"), nil)
	p, _ = tk.Result()
	assert.Equal(t, "one", string(p), "completion is written once")
	assert.NotEmpty(t, tk.ID)
}
