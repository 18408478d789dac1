// Package pairing splits four players into two balanced teams of two.
package pairing

import (
	"fmt"

	"gonum.org/v1/gonum/stat/combin"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
)

// Cost weights. A repeated partnership outweighs any skill imbalance a
// split of four players on a 1..3 scale can produce (at most 8).
const (
	RepeatWeight   = 10.0
	IntraGapWeight = 1.5
	BalanceWeight  = 0.5
)

// Team is two teammates.
type Team [2]*model.SessionPlayer

// IDs returns the teammates' ids.
func (t Team) IDs() [2]string { return [2]string{t[0].ID, t[1].ID} }

func (t Team) score() float64 { return t[0].Score() + t[1].Score() }

func (t Team) gap() float64 { return abs(t[0].Score() - t[1].Score()) }

// Split is one partition of four players into two teams.
type Split struct {
	TeamA Team
	TeamB Team
	Cost  float64
}

// Cost scores a split. Lower is better.
func Cost(a, b Team, history model.PairHistory) float64 {
	var repeats float64
	if history.Has(a[0].ID, a[1].ID) {
		repeats++
	}
	if history.Has(b[0].ID, b[1].ID) {
		repeats++
	}
	return RepeatWeight*repeats +
		IntraGapWeight*(a.gap()+b.gap()) +
		BalanceWeight*abs(a.score()-b.score())
}

// Splits enumerates the three partitions of four players in a fixed order:
// player 0 partners 1, then 2, then 3.
func Splits(four []*model.SessionPlayer) ([]Split, error) {
	if len(four) != 4 {
		return nil, fmt.Errorf("%w: got %d", ErrNeedFour, len(four))
	}
	splits := make([]Split, 0, 3)
	for _, idx := range combin.Combinations(len(four), 2) {
		if idx[0] != 0 {
			continue
		}
		var rest []int
		for i := range four {
			if i != idx[0] && i != idx[1] {
				rest = append(rest, i)
			}
		}
		splits = append(splits, Split{
			TeamA: Team{four[idx[0]], four[idx[1]]},
			TeamB: Team{four[rest[0]], four[rest[1]]},
		})
	}
	return splits, nil
}

// Pair returns the minimum-cost split. When mixed is set, only splits with
// one man and one woman per team are considered. Ties keep the earliest split.
func Pair(four []*model.SessionPlayer, history model.PairHistory, mixed bool) (*Split, error) {
	splits, err := Splits(four)
	if err != nil {
		return nil, err
	}
	var best *Split
	for i := range splits {
		s := splits[i]
		if mixed && !(isMixedTeam(s.TeamA) && isMixedTeam(s.TeamB)) {
			continue
		}
		s.Cost = Cost(s.TeamA, s.TeamB, history)
		if best == nil || s.Cost < best.Cost {
			best = &s
		}
	}
	if best == nil {
		return nil, ErrNoValidSplit
	}
	return best, nil
}

func isMixedTeam(t Team) bool {
	return t[0].Gender != t[1].Gender &&
		t[0].Gender.Valid() && t[1].Gender.Valid()
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
