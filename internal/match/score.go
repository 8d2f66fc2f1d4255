package match

import (
	"sort"
	"strings"

	"github.com/sells-group/evaluation-cli/internal/model"
)

// Match tiers, highest first. The tier number is normalized to a 0-1
// confidence by dividing by tierExactFull, so only tiers at or above
// tierSchoolStateInitial clear the default 0.8 attach threshold.
const (
	tierNone               = 0
	tierFamilyNameState    = 1 // same family name and state
	tierSchoolOnly         = 2 // same school alone
	tierFuzzyName          = 3 // fuzzy name alone
	tierSchoolFuzzyName    = 4 // same school plus fuzzy name
	tierSchoolState        = 5 // same school and state alone
	tierSchoolStateInitial = 6 // same school and state plus first-letter name match
	tierExactFull          = 7 // exact full identity match
)

// Candidate is one scored applicant considered for an upload match.
type Candidate struct {
	Applicant  model.Applicant
	Tier       int
	Confidence float64
}

// Score computes the match tier between an extracted identity and a stored
// applicant. Both sides are normalized before comparison.
func Score(extracted model.CandidateIdentity, a model.Applicant) int {
	eg, ef := NormalizeName(extracted.GivenName), NormalizeName(extracted.FamilyName)
	es, est := NormalizeSchool(extracted.SchoolName), strings.ToUpper(strings.TrimSpace(extracted.StateCode))
	ag, af := NormalizeName(a.GivenName), NormalizeName(a.FamilyName)
	as, ast := NormalizeSchool(a.SchoolName), strings.ToUpper(strings.TrimSpace(a.StateCode))

	sameSchool := es != "" && es == as
	sameState := est != "" && est == ast
	exactName := eg != "" && ef != "" && eg == ag && ef == af
	fuzzyName := NamesSimilar(extracted.GivenName, extracted.FamilyName, a.GivenName, a.FamilyName)
	initialMatch := firstLetterEqual(eg, ag) && firstLetterEqual(ef, af)

	switch {
	case exactName && sameSchool && sameState:
		return tierExactFull
	case sameSchool && sameState && initialMatch:
		return tierSchoolStateInitial
	case sameSchool && sameState:
		return tierSchoolState
	case sameSchool && fuzzyName:
		return tierSchoolFuzzyName
	case fuzzyName:
		return tierFuzzyName
	case sameSchool:
		return tierSchoolOnly
	case ef != "" && ef == af && sameState:
		return tierFamilyNameState
	default:
		return tierNone
	}
}

// TierConfidence normalizes a tier to a 0-1 match confidence.
func TierConfidence(tier int) float64 {
	if tier <= tierNone {
		return 0
	}
	return float64(tier) / float64(tierExactFull)
}

// Rank scores every applicant against the extracted identity, drops
// non-candidates, and returns at most limit candidates ordered by descending
// confidence. Equal-confidence candidates are ordered by ascending applicant
// id so the winner is deterministic.
func Rank(extracted model.CandidateIdentity, applicants []model.Applicant, limit int) []Candidate {
	var out []Candidate
	for _, a := range applicants {
		tier := Score(extracted, a)
		if tier == tierNone {
			continue
		}
		out = append(out, Candidate{
			Applicant:  a,
			Tier:       tier,
			Confidence: TierConfidence(tier),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier > out[j].Tier
		}
		return out[i].Applicant.ID < out[j].Applicant.ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func firstLetterEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a[0] == b[0]
}
