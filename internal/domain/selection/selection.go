// Package selection picks the next four players from the waiting pool.
//
// The selector is an ordered pipeline of steps. Each step is tagged with the
// rule it encodes and either narrows the candidate sets or settles the result;
// a step that cannot apply leaves the state for the next one. Selection is a
// pure function of its input so every station derives the same proposal.
package selection

import (
	"fmt"

	"github.com/elliotchance/pie/v2"
	"gonum.org/v1/gonum/stat/combin"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/Yria/cocktime-scheduler-sub000/internal/domain/pairing"
)

// Rule tags a pipeline step.
type Rule string

const (
	RuleFairness         Rule = "rule_0_fairness"
	RuleMixedPriority    Rule = "rule_1_mixed_priority"
	RuleForcedInclusion  Rule = "rule_7_forced_inclusion"
	RuleRecencyExclusion Rule = "rule_1_5_recency_exclusion"
	RuleSkillGap         Rule = "rule_2_skill_gap"
	RuleWomensDoubles    Rule = "rule_1_8_womens_doubles"
	RuleMensDoubles      Rule = "mens_doubles"
	RuleRelaxedMixed     Rule = "relaxed_mixed"
)

// Reason explains why no match could be formed.
type Reason string

const (
	ReasonNotEnoughPlayers     Reason = "not_enough_players"
	ReasonNoValidConfiguration Reason = "no_valid_configuration"
)

// MatchSize is the number of players on a court.
const MatchSize = 4

// maxTier bounds the tie tier searched exhaustively for the best subset.
const maxTier = 12

// Input is everything the selector looks at.
type Input struct {
	// Pool holds the waiting players in any order.
	Pool  []*model.SessionPlayer
	Flags model.SessionFlags
	// LastMixed lists the participants of the most recently completed mixed match.
	LastMixed []string
}

// Selection is a chosen foursome. For mixed matches the women come first.
type Selection struct {
	Players  []*model.SessionPlayer
	GameType model.GameType
	// RecencyRelaxed is set when the recency exclusion had to be dropped for a gender.
	RecencyRelaxed bool
	Trace          []Rule
}

// Failure is the expected outcome when no rule yields four players.
type Failure struct {
	Reason Reason `json:"reason"`
	// Needed is how many more waiting players would make a match formable.
	Needed int `json:"needed"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %d more player(s) needed", f.Reason, f.Needed)
}

type step struct {
	rule Rule
	run  func(p *pipeline) bool
}

// pipeline is the working state threaded through the steps.
type pipeline struct {
	in      Input
	ordered []*model.SessionPlayer
	women   []*model.SessionPlayer
	men     []*model.SessionPlayer
	mixed   bool
	forcedW []*model.SessionPlayer
	forcedM []*model.SessionPlayer
	candW   []*model.SessionPlayer
	candM   []*model.SessionPlayer
	relaxed bool
	result  *Selection
	trace   []Rule
}

var steps = []step{
	{RuleFairness, fairnessOrder},
	{RuleMixedPriority, mixedPriority},
	{RuleForcedInclusion, forcedInclusion},
	{RuleRecencyExclusion, recencyExclusion},
	{RuleSkillGap, skillGap},
	{RuleWomensDoubles, womensDoubles},
	{RuleMensDoubles, mensDoubles},
	{RuleRelaxedMixed, relaxedMixed},
}

// Select runs the rule cascade over the waiting pool.
func Select(in Input) (*Selection, *Failure) {
	p := run(in, "")
	if p.result == nil {
		return nil, shortfall(len(p.women), len(p.men), len(p.ordered))
	}
	p.result.RecencyRelaxed = p.relaxed
	p.result.Trace = p.trace
	return p.result, nil
}

// run executes the steps in order, stopping once a result is settled or
// after the step tagged stop.
func run(in Input, stop Rule) *pipeline {
	p := &pipeline{in: in}
	for _, s := range steps {
		if p.result != nil {
			break
		}
		if s.run(p) {
			p.trace = append(p.trace, s.rule)
		}
		if s.rule == stop {
			break
		}
	}
	return p
}

// fairnessOrder sorts by gameCount, keeping FIFO wait order among equals.
func fairnessOrder(p *pipeline) bool {
	byWait := pie.SortStableUsing(p.in.Pool, model.WaitsBefore)
	p.ordered = pie.SortStableUsing(byWait, func(a, b *model.SessionPlayer) bool {
		return a.GameCount < b.GameCount
	})
	p.women = pie.Filter(p.ordered, isGender(model.GenderFemale))
	p.men = pie.Filter(p.ordered, isGender(model.GenderMale))
	return true
}

func mixedPriority(p *pipeline) bool {
	p.mixed = len(p.women) >= 2 && len(p.men) >= 2
	return p.mixed
}

// forcedInclusion pulls forceMixed players ahead of their gender. It never
// makes a mixed match formable on its own.
func forcedInclusion(p *pipeline) bool {
	if !p.mixed {
		return false
	}
	isForced := func(sp *model.SessionPlayer) bool { return sp.ForceMixed }
	p.forcedW = pie.Filter(p.women, isForced)
	p.forcedM = pie.Filter(p.men, isForced)
	p.candW = pie.FilterNot(p.women, isForced)
	p.candM = pie.FilterNot(p.men, isForced)
	return len(p.forcedW)+len(p.forcedM) > 0
}

// recencyExclusion drops last mixed participants per gender unless that
// would leave fewer than two candidates.
func recencyExclusion(p *pipeline) bool {
	if !p.mixed || len(p.in.LastMixed) == 0 {
		return false
	}
	fresh := func(sp *model.SessionPlayer) bool { return !pie.Contains(p.in.LastMixed, sp.ID) }

	excluded := false
	narrow := func(forced, cand []*model.SessionPlayer) []*model.SessionPlayer {
		kept := pie.Filter(cand, fresh)
		if len(kept) == len(cand) {
			return cand
		}
		if len(forced)+len(kept) < 2 {
			p.relaxed = true
			return cand
		}
		excluded = true
		return kept
	}
	p.candW = narrow(p.forcedW, p.candW)
	p.candM = narrow(p.forcedM, p.candM)
	return excluded || p.relaxed
}

func skillGap(p *pipeline) bool {
	if !p.mixed {
		return false
	}
	women := pickPair(p.forcedW, p.candW)
	men := pickPair(p.forcedM, p.candM)
	p.result = &Selection{
		Players:  append(append([]*model.SessionPlayer{}, women...), men...),
		GameType: model.GameMixed,
	}
	return true
}

func womensDoubles(p *pipeline) bool {
	if len(p.women) < MatchSize {
		return false
	}
	p.result = &Selection{Players: pickFour(p.women), GameType: model.GameWomensDoubles}
	return true
}

func mensDoubles(p *pipeline) bool {
	if len(p.men) < MatchSize {
		return false
	}
	p.result = &Selection{
		Players:  append([]*model.SessionPlayer{}, p.men[:MatchSize]...),
		GameType: model.GameMensDoubles,
	}
	return true
}

// relaxedMixed allows three men with one woman when she opted in or the
// session allows it.
func relaxedMixed(p *pipeline) bool {
	if len(p.women) != 1 || len(p.men) < 3 {
		return false
	}
	w := p.women[0]
	if !p.in.Flags.AllowSingleWoman && !w.AllowMixedSingle {
		return false
	}
	players := append([]*model.SessionPlayer{w}, p.men[:3]...)
	p.result = &Selection{Players: players, GameType: model.GameRelaxedMixed}
	return true
}

// tierLess orders same-gender candidates: fewer games, then fewer mixed games.
func tierLess(a, b *model.SessionPlayer) bool {
	if a.GameCount != b.GameCount {
		return a.GameCount < b.GameCount
	}
	return a.MixedCount < b.MixedCount
}

func sameTier(a, b *model.SessionPlayer) bool { return !tierLess(a, b) && !tierLess(b, a) }

// pickPair fills two same-gender slots. Forced players are fixed first,
// then every candidate strictly ahead of the boundary tier; the remaining
// slots go to the boundary tier members with the smallest skill gap.
func pickPair(forced, cand []*model.SessionPlayer) []*model.SessionPlayer {
	if len(forced) >= 2 {
		return append([]*model.SessionPlayer{}, forced[:2]...)
	}
	fixed := append([]*model.SessionPlayer{}, forced...)
	need := 2 - len(fixed)
	tiered := pie.SortStableUsing(cand, tierLess)
	boundary := tiered[need-1]

	fixed = append(fixed, pie.Filter(tiered, func(sp *model.SessionPlayer) bool {
		return tierLess(sp, boundary)
	})...)
	slots := 2 - len(fixed)
	if slots == 0 {
		return fixed
	}
	tier := capTier(pie.Filter(tiered, func(sp *model.SessionPlayer) bool {
		return sameTier(sp, boundary)
	}))

	var best []*model.SessionPlayer
	bestGap := 0.0
	for _, idx := range combin.Combinations(len(tier), slots) {
		pair := append([]*model.SessionPlayer{}, fixed...)
		for _, i := range idx {
			pair = append(pair, tier[i])
		}
		gap := pair[0].Score() - pair[1].Score()
		if gap < 0 {
			gap = -gap
		}
		if best == nil || gap < bestGap {
			best, bestGap = pair, gap
		}
	}
	return best
}

// pickFour chooses four women: everyone ahead of the boundary gameCount,
// then the subset of the boundary tier whose best split costs least.
func pickFour(women []*model.SessionPlayer) []*model.SessionPlayer {
	boundary := women[MatchSize-1].GameCount
	locked := pie.Filter(women, func(sp *model.SessionPlayer) bool { return sp.GameCount < boundary })
	tier := capTier(pie.Filter(women, func(sp *model.SessionPlayer) bool { return sp.GameCount == boundary }))
	slots := MatchSize - len(locked)

	var best []*model.SessionPlayer
	bestCost := 0.0
	for _, idx := range combin.Combinations(len(tier), slots) {
		four := append([]*model.SessionPlayer{}, locked...)
		for _, i := range idx {
			four = append(four, tier[i])
		}
		split, err := pairing.Pair(four, nil, false)
		if err != nil {
			continue
		}
		if best == nil || split.Cost < bestCost {
			best, bestCost = four, split.Cost
		}
	}
	return best
}

func capTier(tier []*model.SessionPlayer) []*model.SessionPlayer {
	if len(tier) > maxTier {
		return tier[:maxTier]
	}
	return tier
}

func isGender(g model.Gender) func(*model.SessionPlayer) bool {
	return func(sp *model.SessionPlayer) bool { return sp.Gender == g }
}

// shortfall reports the smallest number of extra players that would make
// any configuration formable.
func shortfall(women, men, total int) *Failure {
	if total < MatchSize {
		return &Failure{Reason: ReasonNotEnoughPlayers, Needed: MatchSize - total}
	}
	needed := missing(2, women) + missing(2, men)
	needed = min(needed, missing(MatchSize, women), missing(MatchSize, men))
	return &Failure{Reason: ReasonNoValidConfiguration, Needed: needed}
}

func missing(want, have int) int {
	if have >= want {
		return 0
	}
	return want - have
}
