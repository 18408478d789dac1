package broadcast

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func matchEvent(id, session string) *model.Event {
	return &model.Event{
		ID:        id,
		Type:      model.EventMatchStarted,
		SessionID: session,
		Origin:    "station-a",
		At:        time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC),
		Match: &model.Match{
			ID: "m-" + id, CourtID: 1, GameType: model.GameMixed,
			TeamA: [2]string{"F1", "M1"}, TeamB: [2]string{"F2", "M2"},
		},
	}
}

func receive(t *testing.T, ch <-chan *model.Event) *model.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestCodec(t *testing.T) {
	ev := matchEvent("e1", "s1")
	payload, err := Encode(ev)
	require.NoError(t, err)
	back, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, ev.Match.TeamB, back.Match.TeamB)
	assert.True(t, back.At.Equal(ev.At))

	_, err = Encode(nil)
	assert.ErrorIs(t, err, ErrNilEvent)
	_, err = Encode(&model.Event{ID: "x", Type: model.EventSessionEnded})
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = Decode([]byte(`{"session_id":"s1"}`))
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestMemoryBus(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx, "s1")
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, "s1")
	require.NoError(t, err)
	other, err := bus.Subscribe(ctx, "s2")
	require.NoError(t, err)

	ev := matchEvent("e1", "s1")
	require.NoError(t, bus.Publish(ctx, ev))

	gotA := receive(t, a)
	gotB := receive(t, b)
	assert.Equal(t, "e1", gotA.ID)
	assert.Equal(t, "e1", gotB.ID)
	assert.NotSame(t, gotA.Match, gotB.Match)
	assert.NotSame(t, ev.Match, gotA.Match)

	select {
	case <-other:
		t.Fatal("event leaked to another session")
	default:
	}
}

func TestMemoryBus_DropsWhenFull(t *testing.T) {
	bus := NewMemoryBus(WithBuffer(1))
	ctx := context.Background()
	ch, err := bus.Subscribe(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, matchEvent("e1", "s1")))
	require.NoError(t, bus.Publish(ctx, matchEvent("e2", "s1")))
	assert.Equal(t, "e1", receive(t, ch).ID)

	require.NoError(t, bus.Close())
	_, ok := <-ch
	assert.False(t, ok)
	assert.ErrorIs(t, bus.Publish(ctx, matchEvent("e3", "s1")), ErrClosed)
}

func TestRedisBus(t *testing.T) {
	s := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := NewRedisBus(ctx, &redis.Options{Addr: s.Addr()})
	require.NoError(t, err)
	defer bus.Close()

	sub, err := bus.Subscribe(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, matchEvent("e1", "s1")))
	got := receive(t, sub)
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, model.EventMatchStarted, got.Type)
	assert.Equal(t, "m-e1", got.Match.ID)

	// garbage on the channel is skipped
	s.Publish(Channel("s1"), "garbage")
	require.NoError(t, bus.Publish(ctx, matchEvent("e2", "s1")))
	assert.Equal(t, "e2", receive(t, sub).ID)
}

func TestRedisBus_Unreachable(t *testing.T) {
	_, err := NewRedisBus(context.Background(), &redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	assert.Error(t, err)
}
