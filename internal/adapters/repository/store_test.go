package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

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

var base = time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)

func player(id string, g model.Gender, status model.Status, wait int) model.SessionPlayer {
	return model.SessionPlayer{
		Player:    model.Player{ID: id, Name: id, Gender: g, Skills: map[string]model.SkillLevel{"smash": model.SkillMid}},
		Status:    status,
		WaitSince: base.Add(time.Duration(wait) * time.Second),
		JoinSeq:   int64(wait),
	}
}

func startDelta() *model.Delta {
	return &model.Delta{
		EventID:   "e-start",
		EventType: model.EventSessionStarted,
		Reset:     true,
		Session:   &model.SessionInfo{ID: "s1", Active: true, CourtCount: 2, StartedAt: base},
	}
}

// exerciseStore runs the shared contract against any Store implementation.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Snapshot(ctx, "s1")
	require.ErrorIs(t, err, ErrNotFound)

	rev, err := store.Apply(ctx, "s1", startDelta())
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	players := []model.SessionPlayer{
		player("F1", model.GenderFemale, model.StatusWaiting, 1),
		player("F2", model.GenderFemale, model.StatusWaiting, 2),
		player("M1", model.GenderMale, model.StatusWaiting, 3),
		player("M2", model.GenderMale, model.StatusWaiting, 4),
		player("M3", model.GenderMale, model.StatusWaiting, 5),
	}
	rev, err = store.Apply(ctx, "s1", &model.Delta{EventType: model.EventPlayersJoined, Players: players})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	match := model.Match{
		ID: "m1", CourtID: 1, GameType: model.GameMixed,
		TeamA: [2]string{"F1", "M1"}, TeamB: [2]string{"F2", "M2"}, StartedAt: base.Add(time.Minute),
	}
	playing := []model.SessionPlayer{players[0], players[1], players[2], players[3]}
	for i := range playing {
		playing[i].Status = model.StatusPlaying
	}
	_, err = store.Apply(ctx, "s1", &model.Delta{EventType: model.EventMatchStarted, Match: &match, Players: playing})
	require.NoError(t, err)

	group := model.ReservedGroup{ID: "g1", MemberIDs: []string{"M3", "F1"}, ReadyIDs: []string{"M3"}}
	_, err = store.Apply(ctx, "s1", &model.Delta{EventType: model.EventGroupReserved, Groups: []model.ReservedGroup{group}})
	require.NoError(t, err)

	snap, err := store.Snapshot(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, snap.Session.Active)
	assert.Equal(t, 2, snap.Session.CourtCount)
	assert.Len(t, snap.Players, 5)
	assert.Equal(t, "F1", snap.Players[0].ID)
	assert.Equal(t, model.SkillMid, snap.Players[0].Skills["smash"])
	require.Len(t, snap.ActiveMatches, 1)
	assert.Equal(t, match.TeamA, snap.ActiveMatches[0].TeamA)
	require.Len(t, snap.Groups, 1)
	assert.Equal(t, []string{"M3", "F1"}, snap.Groups[0].MemberIDs)
	assert.Equal(t, int64(4), snap.Revision)
	assert.Nil(t, snap.LastMixed)
	assert.Empty(t, snap.CompletedMatchIDs)
	assert.Empty(t, snap.RetiredGroupIDs)

	done := match
	done.EndedAt = base.Add(20 * time.Minute)
	_, err = store.Apply(ctx, "s1", &model.Delta{
		EventType: model.EventMatchCompleted,
		Match:     &done,
		Pairs: []model.PairRow{
			{PlayerA: "M1", PlayerB: "F1", Count: 1},
			{PlayerA: "F2", PlayerB: "M2", Count: 1},
		},
		RemovedGroups:  []string{"g1"},
		RemovedPlayers: []string{"M3"},
	})
	require.NoError(t, err)

	snap, err = store.Snapshot(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, snap.ActiveMatches)
	assert.Empty(t, snap.Groups)
	assert.Len(t, snap.Players, 4)
	assert.Equal(t, 1, snap.CompletedCount)
	require.NotNil(t, snap.LastMixed)
	assert.Equal(t, "m1", snap.LastMixed.ID)
	assert.True(t, snap.LastMixed.EndedAt.Equal(done.EndedAt))
	assert.Equal(t, []string{"m1"}, snap.CompletedMatchIDs)
	assert.Equal(t, []string{"g1"}, snap.RetiredGroupIDs)
	assert.Equal(t, []model.PairRow{
		{PlayerA: "F1", PlayerB: "M1", Count: 1},
		{PlayerA: "F2", PlayerB: "M2", Count: 1},
	}, snap.PairHistory)

	ended := &model.Delta{
		EventType: model.EventSessionEnded,
		Reset:     true,
		Session:   &model.SessionInfo{ID: "s1", CourtCount: 2, StartedAt: base, EndedAt: base.Add(time.Hour)},
	}
	_, err = store.Apply(ctx, "s1", ended)
	require.NoError(t, err)
	snap, err = store.Snapshot(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, snap.Session.Active)
	assert.Empty(t, snap.Players)
	assert.Empty(t, snap.PairHistory)
	assert.Zero(t, snap.CompletedCount)
	assert.Empty(t, snap.CompletedMatchIDs)
	assert.Empty(t, snap.RetiredGroupIDs)
	assert.True(t, snap.Session.EndedAt.Equal(base.Add(time.Hour)))
}

func exerciseWatch(t *testing.T, store Store) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := store.Apply(ctx, "s2", startDelta())
	require.NoError(t, err)
	feed, err := store.Watch(ctx, "s2")
	require.NoError(t, err)

	rev, err := store.Apply(ctx, "s2", &model.Delta{EventType: model.EventCourtCountChanged,
		Session: &model.SessionInfo{ID: "s2", Active: true, CourtCount: 3, StartedAt: base}})
	require.NoError(t, err)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-feed:
			if got == rev {
				cancel()
				return
			}
		case <-deadline:
			t.Fatalf("revision %d never observed", rev)
		}
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	exerciseStore(t, store)
	exerciseWatch(t, store)
}

func TestMemoryStore_Validation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Apply(ctx, "s1", nil)
	assert.ErrorIs(t, err, ErrNilDelta)
	_, err = store.Apply(ctx, "", &model.Delta{})
	assert.ErrorIs(t, err, ErrEmptySession)

	require.NoError(t, store.Close())
	_, err = store.Apply(ctx, "s1", &model.Delta{})
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestMemoryStore_WatchClosesOnCancel(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	feed, err := store.Watch(ctx, "s1")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-feed:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}

func TestOffer_KeepsLatest(t *testing.T) {
	ch := make(chan int64, 1)
	offer(ch, 1)
	offer(ch, 2)
	offer(ch, 3)
	assert.Equal(t, int64(3), <-ch)
}

func TestSQLStore(t *testing.T) {
	store, err := NewSQLStore(filepath.Join(t.TempDir(), "cocktime.db"), WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
	exerciseWatch(t, store)
}

func TestSQLStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cocktime.db")
	ctx := context.Background()

	store, err := NewSQLStore(path)
	require.NoError(t, err)
	_, err = store.Apply(ctx, "s1", startDelta())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewSQLStore(path)
	require.NoError(t, err)
	defer store.Close()
	snap, err := store.Snapshot(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, snap.Session.Active)
	assert.True(t, snap.Session.StartedAt.Equal(base))
	assert.Equal(t, int64(1), snap.Revision)
}

func TestParseTime(t *testing.T) {
	got, err := parseTime("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseTime(formatTime(base))
	require.NoError(t, err)
	assert.True(t, got.Equal(base))

	_, err = parseTime("yesterday")
	assert.True(t, errors.Is(err, ErrInconsistency))
}

func TestFirestoreStore(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	store, err := NewFirestoreStore(context.Background(), "cocktime-test", "")
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
	exerciseWatch(t, store)
}

func TestFirestoreDocs(t *testing.T) {
	p := player("F1", model.GenderFemale, model.StatusResting, 3)
	p.ForceMixed = true
	p.GameCount = 2
	back := fromPlayerDoc(p.ID, ptr(toPlayerDoc(&p)))
	assert.Equal(t, p, back)

	m := model.Match{ID: "m1", CourtID: 2, GameType: model.GameMensDoubles,
		TeamA: [2]string{"a", "b"}, TeamB: [2]string{"c", "d"}, StartedAt: base}
	doc := toMatchDoc(&m)
	assert.Equal(t, matchStatusActive, doc.Status)
	got, err := fromMatchDoc("m1", &doc)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	doc.TeamB = []string{"c"}
	_, err = fromMatchDoc("m1", &doc)
	assert.True(t, errors.Is(err, ErrInconsistency))
}

func ptr[T any](v T) *T { return &v }
