package model_test

import (
	"testing"
	"time"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestSkillScore(t *testing.T) {
	convey.Convey("Given roster players", t, func() {
		convey.Convey("When every category is rated", func() {
			p := model.Player{ID: "p1", Skills: map[string]model.SkillLevel{
				"clear": model.SkillHigh, "smash": model.SkillLow, "net": model.SkillMid,
			}}

			convey.Convey("Then the score is the mean rating", func() {
				convey.So(model.SkillScore(p), convey.ShouldEqual, 2.0)
			})
		})

		convey.Convey("When a category holds an unknown rating", func() {
			p := model.Player{ID: "p1", Skills: map[string]model.SkillLevel{
				"clear": model.SkillHigh, "smash": "Expert",
			}}

			convey.Convey("Then it is ignored", func() {
				convey.So(model.SkillScore(p), convey.ShouldEqual, 3.0)
			})
		})

		convey.Convey("When a player has no ratings", func() {
			convey.Convey("Then the neutral score is used", func() {
				convey.So(model.SkillScore(model.Player{ID: "p"}), convey.ShouldEqual, 2.0)
			})
		})
	})
}

func TestPairHistory(t *testing.T) {
	convey.Convey("Given an empty pair history", t, func() {
		h := model.PairHistory{}

		convey.Convey("When a partnership is recorded", func() {
			h.Record("b", "a")
			h.Record("a", "b")

			convey.Convey("Then the relation is symmetric and counted", func() {
				convey.So(h.Has("a", "b"), convey.ShouldBeTrue)
				convey.So(h.Has("b", "a"), convey.ShouldBeTrue)
				convey.So(h.Count("a", "b"), convey.ShouldEqual, 2)
				convey.So(h.Has("a", "c"), convey.ShouldBeFalse)
				convey.So(h.Partners("a"), convey.ShouldResemble, []string{"b"})
			})

			convey.Convey("Then rows list each unordered pair once", func() {
				convey.So(h.Rows(), convey.ShouldResemble, []model.PairRow{{PlayerA: "a", PlayerB: "b", Count: 2}})
			})
		})

		convey.Convey("When rebuilding from rows", func() {
			h.Set("x", "y", 3)

			convey.Convey("Then both directions carry the count", func() {
				convey.So(h.Count("y", "x"), convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When the history is nil", func() {
			var nilHistory model.PairHistory

			convey.Convey("Then lookups are safe", func() {
				convey.So(nilHistory.Has("a", "b"), convey.ShouldBeFalse)
			})
		})
	})
}

func TestReservedGroup(t *testing.T) {
	convey.Convey("Given a group with one ready member", t, func() {
		g := &model.ReservedGroup{ID: "g1", MemberIDs: []string{"a", "b"}, ReadyIDs: []string{"a"}}

		convey.Convey("Then it is not fully ready", func() {
			convey.So(g.FullyReady(), convey.ShouldBeFalse)
		})

		convey.Convey("Then membership and readiness are told apart", func() {
			convey.So(g.IsMember("b"), convey.ShouldBeTrue)
			convey.So(g.IsReady("b"), convey.ShouldBeFalse)
			convey.So(g.IsReady("a"), convey.ShouldBeTrue)
			convey.So(g.IsMember("z"), convey.ShouldBeFalse)
		})

		convey.Convey("When the other member becomes ready", func() {
			convey.So(g.MarkReady("b"), convey.ShouldBeTrue)
			convey.So(g.MarkReady("b"), convey.ShouldBeFalse)
			convey.So(g.MarkReady("z"), convey.ShouldBeFalse)

			convey.Convey("Then it is fully ready", func() {
				convey.So(g.FullyReady(), convey.ShouldBeTrue)
			})
		})
	})
}

func TestWaitOrder(t *testing.T) {
	convey.Convey("Given players joining at the same instant", t, func() {
		at := time.Date(2024, 5, 1, 19, 0, 0, 0, time.UTC)
		a := &model.SessionPlayer{Player: model.Player{ID: "z"}, WaitSince: at, JoinSeq: 1}
		b := &model.SessionPlayer{Player: model.Player{ID: "a"}, WaitSince: at, JoinSeq: 2}
		c := &model.SessionPlayer{Player: model.Player{ID: "c"}, WaitSince: at.Add(-time.Minute), JoinSeq: 3}

		convey.Convey("Then join sequence breaks the tie before the id", func() {
			convey.So(model.WaitsBefore(a, b), convey.ShouldBeTrue)
			convey.So(model.WaitsBefore(c, a), convey.ShouldBeTrue)
			convey.So(model.WaitsBefore(b, a), convey.ShouldBeFalse)
		})
	})
}

func TestMatch(t *testing.T) {
	convey.Convey("Given an active match", t, func() {
		m := model.Match{ID: "m1", TeamA: [2]string{"a", "b"}, TeamB: [2]string{"c", "d"}}

		convey.Convey("Then it lists team A first and is not completed", func() {
			convey.So(m.PlayerIDs(), convey.ShouldResemble, []string{"a", "b", "c", "d"})
			convey.So(m.Completed(), convey.ShouldBeFalse)
		})

		convey.Convey("When it ends", func() {
			m.EndedAt = time.Now()

			convey.Convey("Then it is completed", func() {
				convey.So(m.Completed(), convey.ShouldBeTrue)
			})
		})
	})
}
