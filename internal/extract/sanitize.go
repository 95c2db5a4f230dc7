package extract

import (
	"regexp"
	"strings"

	"github.com/scrypster/engram/pkg/types"
)

// identityAllowList names keys that may pass sanitization below the general
// confidence floor. These are the stable identity keys the engine treats as
// high-value.
var identityAllowList = map[string]bool{
	"timezone": true, "preferred_name": true, "output_format": true,
	"favorite_color": true, "favorite_drink": true, "favorite_food": true,
	"dog_name": true, "default_location": true, "name": true, "coding_style": true,
	"work_role": true, "communication_style": true, "risk_profile": true,
	"primary_goal": true, "user_preference": true, "constraint": true, "goal": true,
}

// keyAliases folds common LLM key variants onto canonical names.
var keyAliases = map[string]string{
	"fav_color": "favorite_color", "colour": "favorite_color", "favorite_colour": "favorite_color",
	"fav_drink": "favorite_drink", "favorite_beverage": "favorite_drink",
	"fav_food": "favorite_food", "favorite_snack": "favorite_food",
	"liked_food": "favorite_food", "food_preference": "favorite_food",
	"job": "work_role", "occupation": "work_role", "profession": "work_role",
	"risk": "risk_profile", "risk_tolerance": "risk_profile", "risk_appetite": "risk_profile",
	"style": "communication_style", "communication_preference": "communication_style",
}

const (
	maxKeyLen   = 48
	maxValueLen = 120

	// defaultMinConfidence drops low-certainty candidates whose key is not
	// on the identity allow-list.
	defaultMinConfidence = 0.75

	// offListMinConfidence is the stricter floor for unknown keys.
	offListMinConfidence = 0.80
)

var (
	reNonAlnum    = regexp.MustCompile(`[^a-zA-Z0-9]+`)
	reUnderscores = regexp.MustCompile(`_+`)
)

// SnakeKey normalizes a raw key to snake_case, capped at 48 characters.
// Empty input becomes "fact".
func SnakeKey(s string) string {
	s = reNonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "_")
	s = strings.Trim(reUnderscores.ReplaceAllString(s, "_"), "_")
	if len(s) > maxKeyLen {
		s = s[:maxKeyLen]
	}
	if s == "" {
		return "fact"
	}
	return s
}

// Sanitize validates, normalizes and caps candidates from any source.
// Facts get snake-case keys, alias folding, value caps and confidence
// clamping; at most maxFacts facts and one skill survive.
func Sanitize(facts []types.FactCandidate, skills []types.SkillCandidate, maxFacts int) ([]types.FactCandidate, []types.SkillCandidate) {
	if maxFacts < 1 {
		maxFacts = 3
	}

	var outFacts []types.FactCandidate
	for _, f := range facts {
		key := SnakeKey(f.Key)
		if alias, ok := keyAliases[key]; ok {
			key = alias
		}
		value := capValue(f.Value, maxValueLen)
		if key == "" || value == "" {
			continue
		}

		conf := clamp01(f.Confidence)
		if conf == 0 {
			conf = 0.6
		}
		if !identityAllowList[key] && conf < offListMinConfidence {
			continue
		}

		kind := f.Kind
		if !kind.Valid() {
			kind = types.KindPreference
		}

		entity := SnakeKey(f.Entity)
		if entity == "" || entity == "fact" {
			entity = "user"
		}

		importance := f.Importance
		if importance != nil {
			v := clamp01(*importance)
			importance = &v
		}

		outFacts = append(outFacts, types.FactCandidate{
			Entity:     entity,
			Key:        key,
			Value:      value,
			Kind:       kind,
			Bucket:     f.Bucket,
			Importance: importance,
			Confidence: conf,
			Pinned:     f.Pinned,
			Volatile:   f.Volatile,
			TTL:        f.TTL,
		})
		if len(outFacts) == maxFacts {
			break
		}
	}

	var outSkills []types.SkillCandidate
	for _, s := range skills {
		title := capValue(s.Title, maxValueLen)
		if title == "" {
			continue
		}
		conf := clamp01(s.Confidence)
		if conf == 0 {
			conf = 0.6
		}
		if conf < defaultMinConfidence && conf < 0.7 {
			continue
		}

		var tags []string
		for _, tag := range s.Tags {
			if t := SnakeKey(tag); t != "" && t != "fact" {
				tags = append(tags, t)
			}
			if len(tags) == 10 {
				break
			}
		}

		outSkills = append(outSkills, types.SkillCandidate{
			Title:      title,
			Steps:      capSteps(s.Steps),
			Tags:       tags,
			Confidence: conf,
		})
		// One skill per turn keeps the skills lane from flooding.
		break
	}

	return outFacts, outSkills
}

// capSteps limits a skill to 8 steps of at most 90 characters each.
func capSteps(steps string) string {
	lines := strings.Split(steps, "\n")
	var out []string
	for _, ln := range lines {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		if len(ln) > 90 {
			ln = ln[:90]
		}
		out = append(out, ln)
		if len(out) == 8 {
			break
		}
	}
	return strings.Join(out, "\n")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
