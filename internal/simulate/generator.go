package simulate

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
)

// Skill categories a generated player is rated in.
var skillCategories = []string{"clear", "drop", "smash", "net", "defense"}

var skillLevels = []model.SkillLevel{model.SkillHigh, model.SkillMid, model.SkillLow}

// Share of generated players who are women, in percent.
const womenPercent = 40

// GeneratePlayers builds n roster players from seed. The same seed yields the
// same genders and ratings; ids are always fresh.
func GeneratePlayers(ctx context.Context, n int, seed uint64) []model.Player {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	players := make([]model.Player, n)
	for i := range players {
		gender := model.GenderMale
		if rng.IntN(100) < womenPercent {
			gender = model.GenderFemale
		}
		skills := make(map[string]model.SkillLevel, len(skillCategories))
		for _, cat := range skillCategories {
			// one in five categories stays unrated
			if rng.IntN(5) == 0 {
				continue
			}
			skills[cat] = skillLevels[rng.IntN(len(skillLevels))]
		}
		players[i] = model.Player{
			ID:     uuid.NewString(),
			Name:   fmt.Sprintf("player-%02d", i+1),
			Gender: gender,
			Skills: skills,
		}
	}
	logger.Get().Info(ctx, "generated roster", logger.Int("players", n), logger.Any("seed", seed))
	return players
}

// IDs returns the ids of players in order.
func IDs(players []model.Player) []string {
	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	return ids
}
