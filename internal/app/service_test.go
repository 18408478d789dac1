package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/broadcast"
	"github.com/Yria/cocktime-scheduler-sub000/internal/adapters/repository"
	service "github.com/Yria/cocktime-scheduler-sub000/internal/app"
	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type fakeRoster struct {
	mu      sync.Mutex
	players map[string]model.Player
}

func newFakeRoster(players ...model.Player) *fakeRoster {
	r := &fakeRoster{players: make(map[string]model.Player)}
	for _, p := range players {
		r.players[p.ID] = p
	}
	return r
}

func (r *fakeRoster) FetchPlayers(context.Context) ([]model.Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	return out, nil
}

func (r *fakeRoster) UpdatePlayer(_ context.Context, id string, g model.Gender, skills map[string]model.SkillLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return errors.New("not in roster")
	}
	p.Gender, p.Skills = g, skills
	r.players[id] = p
	return nil
}

type flakyStore struct {
	*repository.MemoryStore
	fail atomic.Bool
}

func (f *flakyStore) Apply(ctx context.Context, sid string, d *model.Delta) (int64, error) {
	if f.fail.Load() {
		return 0, errors.New("disk full")
	}
	return f.MemoryStore.Apply(ctx, sid, d)
}

type flakyBus struct {
	*broadcast.MemoryBus
	fail atomic.Bool
}

func (f *flakyBus) Publish(ctx context.Context, ev *model.Event) error {
	if f.fail.Load() {
		return errors.New("broker down")
	}
	return f.MemoryBus.Publish(ctx, ev)
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []*service.Update
}

func (n *recordingNotifier) Notify(_ context.Context, u *service.Update) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, u)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.updates))
	for _, u := range n.updates {
		out = append(out, u.Kind)
	}
	return out
}

func men(n int) []model.Player {
	out := make([]model.Player, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, model.Player{ID: fmt.Sprintf("m%d", i), Name: fmt.Sprintf("Man %d", i), Gender: model.GenderMale})
	}
	return out
}

func ids(players []model.Player) []string {
	out := make([]string, 0, len(players))
	for _, p := range players {
		out = append(out, p.ID)
	}
	return out
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func station(store repository.Store, bus broadcast.Bus, roster service.Roster, opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithSessionID("club-night"),
		service.WithStore(store),
		service.WithBus(bus),
		service.WithRoster(roster),
		service.WithReconcileInterval(0),
	}
	return service.New(append(base, opts...)...)
}

func playerStatus(svc *service.Service, id string) model.Status {
	st, err := svc.State(context.Background())
	if err != nil {
		return ""
	}
	for _, p := range st.Players {
		if p.ID == id {
			return p.Status
		}
	}
	return ""
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithReconcileInterval(0))
		ctx := context.Background()

		Convey("When it is not started", func() {
			_, err := svc.Complete(ctx, 1)
			_, genErr := svc.Generate(ctx)

			Convey("Then operations are refused", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
				So(errors.Is(genErr, service.ErrNotStarted), ShouldBeTrue)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})

		Convey("When it is started and stopped", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			started := svc.GetStats()["started"]
			svc.Stop()
			svc.Stop()

			Convey("Then the flags follow", func() {
				So(started, ShouldEqual, true)
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})

		Convey("When players are added without a roster", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()
			_, err := svc.StartSession(ctx, 2, []string{"m1"})

			Convey("Then the missing directory is reported", func() {
				So(errors.Is(err, service.ErrNoRoster), ShouldBeTrue)
			})
		})
	})
}

func TestService_LocalOperations(t *testing.T) {
	Convey("Given a started station with six men in the roster", t, func() {
		ctx := context.Background()
		roster := newFakeRoster(men(6)...)
		notifier := &recordingNotifier{}
		svc := station(repository.NewMemoryStore(), broadcast.NewMemoryBus(), roster, service.WithNotifier(notifier))
		So(svc.Start(ctx), ShouldBeNil)
		Reset(svc.Stop)

		res, err := svc.StartSession(ctx, 2, ids(men(6)))
		So(err, ShouldBeNil)
		So(res.Applied, ShouldBeTrue)

		Convey("When a match is generated and assigned", func() {
			gen, err := svc.Generate(ctx)
			So(err, ShouldBeNil)
			So(gen.Proposal, ShouldNotBeNil)
			st, _ := svc.State(ctx)
			So(st.Pending, ShouldNotBeNil)

			res, err := svc.Assign(ctx, 1)

			Convey("Then the match occupies the court and the proposal is consumed", func() {
				So(err, ShouldBeNil)
				So(res.Applied, ShouldBeTrue)
				So(res.Event.Type, ShouldEqual, model.EventMatchStarted)
				st, err := svc.State(ctx)
				So(err, ShouldBeNil)
				So(st.Pending, ShouldBeNil)
				So(st.Courts, ShouldHaveLength, 2)
				So(st.Courts[0].Match, ShouldNotBeNil)
				So(st.Courts[0].Match.TeamA, ShouldResemble, gen.Proposal.TeamA)
				So(svc.GetStats()["playing"], ShouldEqual, 4)
			})

			Convey("And a reservation is sent to the busy court", func() {
				group, err := svc.CreateReservation(ctx, []string{"m5", "m6"})
				So(err, ShouldBeNil)
				again, err := svc.AssignGroup(ctx, group.Event.Group.ID, 1)

				Convey("Then nothing happens", func() {
					So(err, ShouldBeNil)
					So(again.Applied, ShouldBeFalse)
					So(again.Reason, ShouldContainSubstring, "occupied")
				})
			})

			Convey("And the match is completed", func() {
				done, err := svc.Complete(ctx, 1)

				Convey("Then everyone waits again with one more game", func() {
					So(err, ShouldBeNil)
					So(done.Applied, ShouldBeTrue)
					st, _ := svc.State(ctx)
					So(st.CompletedCount, ShouldEqual, 1)
					for _, p := range st.Players {
						So(p.Status, ShouldEqual, model.StatusWaiting)
					}
					So(len(st.PairHistory), ShouldEqual, 2)
				})
			})
		})

		Convey("When assigning without a proposal", func() {
			res, err := svc.Assign(ctx, 1)

			Convey("Then the no-op is reported, not raised", func() {
				So(err, ShouldBeNil)
				So(res.Applied, ShouldBeFalse)
				So(res.Reason, ShouldNotBeEmpty)
			})
		})

		Convey("When a proposal is cancelled", func() {
			_, err := svc.Generate(ctx)
			So(err, ShouldBeNil)

			Convey("Then it is gone without side effects", func() {
				So(svc.CancelProposal(ctx), ShouldBeTrue)
				So(svc.CancelProposal(ctx), ShouldBeFalse)
				st, _ := svc.State(ctx)
				So(st.Pending, ShouldBeNil)
				So(svc.GetStats()["waiting"], ShouldEqual, 6)
			})
		})

		Convey("When too many players rest", func() {
			for _, id := range []string{"m1", "m2", "m3"} {
				res, err := svc.ToggleResting(ctx, id)
				So(err, ShouldBeNil)
				So(res.Applied, ShouldBeTrue)
			}
			gen, err := svc.Generate(ctx)

			Convey("Then the shortfall is reported", func() {
				So(err, ShouldBeNil)
				So(gen.Proposal, ShouldBeNil)
				So(gen.Reason, ShouldEqual, "not_enough_players")
				So(gen.Needed, ShouldEqual, 1)
			})
		})

		Convey("When a reservation is made and assigned", func() {
			res, err := svc.CreateReservation(ctx, []string{"m5", "m6"})
			So(err, ShouldBeNil)
			So(res.Applied, ShouldBeTrue)
			groupID := res.Event.Group.ID
			assigned, err := svc.AssignGroup(ctx, groupID, 2)

			Convey("Then the group plays on that court", func() {
				So(err, ShouldBeNil)
				So(assigned.Applied, ShouldBeTrue)
				So(assigned.Event.Match.GroupID, ShouldEqual, groupID)
				So(assigned.Event.Match.PlayerIDs(), ShouldContain, "m5")
				So(assigned.Event.Match.PlayerIDs(), ShouldContain, "m6")
				st, _ := svc.State(ctx)
				So(st.Groups, ShouldBeEmpty)
			})
		})

		Convey("When the roster entry of a session player changes", func() {
			res, err := svc.UpdateRosterPlayer(ctx, "m2", model.GenderMale, map[string]model.SkillLevel{"smash": model.SkillHigh})

			Convey("Then the session row is refreshed", func() {
				So(err, ShouldBeNil)
				So(res.Applied, ShouldBeTrue)
				So(res.Event.Type, ShouldEqual, model.EventPlayersJoined)
				st, _ := svc.State(ctx)
				for _, p := range st.Players {
					if p.ID == "m2" {
						So(p.Skills["smash"], ShouldEqual, model.SkillHigh)
					}
				}
			})
		})

		Convey("When an unknown roster player is added", func() {
			_, err := svc.AddPlayers(ctx, []string{"nobody"})

			Convey("Then the request fails", func() {
				So(errors.Is(err, service.ErrUnknownRoster), ShouldBeTrue)
			})
		})

		Convey("When the court count changes and the session ends", func() {
			resized, err := svc.SetCourtCount(ctx, 3)
			So(err, ShouldBeNil)
			ended, err := svc.EndSession(ctx)
			So(err, ShouldBeNil)

			Convey("Then the state is cleared and the feed saw every event", func() {
				So(resized.Applied, ShouldBeTrue)
				So(ended.Applied, ShouldBeTrue)
				st, _ := svc.State(ctx)
				So(st.Session.Active, ShouldBeFalse)
				So(st.Players, ShouldBeEmpty)
				So(notifier.kinds(), ShouldResemble, []string{
					service.UpdateEvent, service.UpdateEvent, service.UpdateEvent, service.UpdateEvent,
				})
			})
		})
	})
}

func TestService_TwoStations(t *testing.T) {
	Convey("Given two stations sharing a store and a bus", t, func() {
		ctx := context.Background()
		store := &flakyStore{MemoryStore: repository.NewMemoryStore()}
		bus := &flakyBus{MemoryBus: broadcast.NewMemoryBus()}
		roster := newFakeRoster(men(6)...)
		a := station(store, bus, roster, service.WithClientID("station-a"))
		b := station(store, bus, roster, service.WithClientID("station-b"))
		So(a.Start(ctx), ShouldBeNil)
		So(b.Start(ctx), ShouldBeNil)
		Reset(func() {
			a.Stop()
			b.Stop()
			_ = bus.Close()
			_ = store.Close()
		})

		_, err := a.StartSession(ctx, 2, ids(men(6)))
		So(err, ShouldBeNil)
		So(eventually(func() bool { return b.GetStats()["waiting"] == 6 }), ShouldBeTrue)

		Convey("When station A assigns a match", func() {
			_, err := a.Generate(ctx)
			So(err, ShouldBeNil)
			res, err := a.Assign(ctx, 1)
			So(err, ShouldBeNil)

			Convey("Then station B shows the same match without regenerating", func() {
				So(eventually(func() bool {
					st, _ := b.State(ctx)
					return st.Courts[0].Match != nil
				}), ShouldBeTrue)
				st, _ := b.State(ctx)
				So(st.Courts[0].Match.ID, ShouldEqual, res.Event.Match.ID)
				So(st.Courts[0].Match.TeamA, ShouldResemble, res.Event.Match.TeamA)
				So(st.Courts[0].Match.TeamB, ShouldResemble, res.Event.Match.TeamB)
			})

			Convey("And station B completes it", func() {
				So(eventually(func() bool { return b.GetStats()["playing"] == 4 }), ShouldBeTrue)
				done, err := b.Complete(ctx, 1)
				So(err, ShouldBeNil)
				So(done.Applied, ShouldBeTrue)

				Convey("Then station A converges", func() {
					So(eventually(func() bool { return a.GetStats()["completedMatches"] == 1 }), ShouldBeTrue)
					So(a.GetStats()["waiting"], ShouldEqual, 6)
				})
			})
		})

		Convey("When the durable write fails", func() {
			store.fail.Store(true)
			res, err := a.ToggleResting(ctx, "m1")
			store.fail.Store(false)

			Convey("Then the error surfaces and the local change stays", func() {
				So(errors.Is(err, service.ErrSaveFailed), ShouldBeTrue)
				So(res.Applied, ShouldBeTrue)
				So(playerStatus(a, "m1"), ShouldEqual, model.StatusResting)
				So(playerStatus(b, "m1"), ShouldEqual, model.StatusWaiting)
			})
		})

		Convey("When the broadcast is lost", func() {
			bus.fail.Store(true)
			res, err := a.ToggleResting(ctx, "m2")
			bus.fail.Store(false)

			Convey("Then station B catches up through the change feed", func() {
				So(err, ShouldBeNil)
				So(res.Applied, ShouldBeTrue)
				So(eventually(func() bool { return playerStatus(b, "m2") == model.StatusResting }), ShouldBeTrue)
			})
		})

		Convey("When a remote event is delivered twice", func() {
			ev := &model.Event{
				ID: "dup-1", Type: model.EventPlayerStatusChanged, SessionID: "club-night",
				Origin: "station-z", At: time.Now().UTC(),
				Player: &model.PlayerChange{ID: "m3", Status: model.StatusResting},
			}
			So(bus.Publish(ctx, ev), ShouldBeNil)
			So(eventually(func() bool { return playerStatus(b, "m3") == model.StatusResting }), ShouldBeTrue)
			_, err := b.ToggleResting(ctx, "m3")
			So(err, ShouldBeNil)
			So(bus.Publish(ctx, ev), ShouldBeNil)

			Convey("Then the replay does not undo the later change", func() {
				time.Sleep(50 * time.Millisecond)
				So(playerStatus(b, "m3"), ShouldEqual, model.StatusWaiting)
			})
		})

		Convey("When a third station joins late", func() {
			_, err := a.ToggleForceMixed(ctx, "m4")
			So(err, ShouldBeNil)
			c := station(store, bus, roster, service.WithClientID("station-c"))
			So(c.Start(ctx), ShouldBeNil)
			defer c.Stop()

			Convey("Then it starts from the stored snapshot", func() {
				st, err := c.State(ctx)
				So(err, ShouldBeNil)
				So(st.Session.Active, ShouldBeTrue)
				So(st.Players, ShouldHaveLength, 6)
				for _, p := range st.Players {
					if p.ID == "m4" {
						So(p.ForceMixed, ShouldBeTrue)
					}
				}
			})
		})

		Convey("When a station that joined after a finished match gets its events late", func() {
			_, err := a.Generate(ctx)
			So(err, ShouldBeNil)
			started, err := a.Assign(ctx, 1)
			So(err, ShouldBeNil)
			startRev := a.GetStats()["revision"].(int64)
			completed, err := a.Complete(ctx, 1)
			So(err, ShouldBeNil)
			doneRev := a.GetStats()["revision"].(int64)
			So(doneRev, ShouldEqual, startRev+1)

			c := station(store, bus, roster, service.WithClientID("station-c"))
			So(c.Start(ctx), ShouldBeNil)
			defer c.Stop()

			lateStart := *started.Event
			lateStart.Revision = startRev
			lateDone := *completed.Event
			lateDone.Revision = doneRev
			So(bus.Publish(ctx, &lateStart), ShouldBeNil)
			So(bus.Publish(ctx, &lateDone), ShouldBeNil)

			Convey("Then no match reappears on the court", func() {
				time.Sleep(50 * time.Millisecond)
				st, err := c.State(ctx)
				So(err, ShouldBeNil)
				So(st.Courts[0].Match, ShouldBeNil)
				So(c.GetStats()["waiting"], ShouldEqual, 6)
				So(c.GetStats()["completedMatches"], ShouldEqual, 1)
				for _, p := range st.Players {
					So(p.Status, ShouldEqual, model.StatusWaiting)
					if p.ID == started.Event.Match.TeamA[0] {
						So(p.GameCount, ShouldEqual, 1)
					}
				}
			})
		})
	})
}
