package workflow

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// StageDef declares one gated analysis stage: the input fields its gate
// checks and the stages whose outputs it reads.
type StageDef struct {
	ID        string   `yaml:"id"`
	Requires  []string `yaml:"requires"`
	DependsOn []string `yaml:"depends_on"`
}

// DefaultStages is the built-in fixed stage list. The four stages have no
// inter-dependencies and may run concurrently once gated.
func DefaultStages() []StageDef {
	return []StageDef{
		{ID: "academics", Requires: []string{"transcript_text", "gpa"}},
		{ID: "essay", Requires: []string{"essay_text"}},
		{ID: "activities", Requires: []string{"activities_list"}},
		{ID: "recommendations", Requires: []string{"recommendation_letters"}},
	}
}

// LoadStages reads a stage list from a YAML file, falling back to the
// built-in defaults when path is empty.
func LoadStages(path string) ([]StageDef, error) {
	if path == "" {
		return DefaultStages(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "stages: read %s", path)
	}

	var doc struct {
		Stages []StageDef `yaml:"stages"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "stages: parse %s", path)
	}
	if len(doc.Stages) == 0 {
		return nil, eris.Errorf("stages: %s defines no stages", path)
	}
	if err := validateStages(doc.Stages); err != nil {
		return nil, err
	}
	return doc.Stages, nil
}

// validateStages rejects duplicate ids, unknown dependencies, and cycles.
func validateStages(stages []StageDef) error {
	byID := make(map[string]StageDef, len(stages))
	for _, s := range stages {
		if s.ID == "" {
			return eris.New("stages: stage with empty id")
		}
		if _, dup := byID[s.ID]; dup {
			return eris.Errorf("stages: duplicate stage id %q", s.ID)
		}
		byID[s.ID] = s
	}

	for _, s := range stages {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return eris.Errorf("stages: %q depends on unknown stage %q", s.ID, dep)
			}
		}
	}

	// Kahn's algorithm to reject cycles.
	indegree := make(map[string]int, len(stages))
	for _, s := range stages {
		indegree[s.ID] += 0
		for range s.DependsOn {
			indegree[s.ID]++
		}
	}
	var queue []string
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	seen := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		seen++
		for _, s := range stages {
			for _, dep := range s.DependsOn {
				if dep == id {
					indegree[s.ID]--
					if indegree[s.ID] == 0 {
						queue = append(queue, s.ID)
					}
				}
			}
		}
	}
	if seen != len(stages) {
		return eris.New("stages: dependency cycle detected")
	}
	return nil
}

// waves splits stages into dependency layers: every stage in a wave only
// depends on stages in earlier waves, so each wave can run concurrently.
func waves(stages []StageDef) [][]StageDef {
	done := make(map[string]bool, len(stages))
	remaining := append([]StageDef(nil), stages...)

	var out [][]StageDef
	for len(remaining) > 0 {
		var wave []StageDef
		var next []StageDef
		for _, s := range remaining {
			ready := true
			for _, dep := range s.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, s)
			} else {
				next = append(next, s)
			}
		}
		if len(wave) == 0 {
			// validateStages rejects cycles, so this is unreachable; bail
			// rather than loop forever if it ever regresses.
			break
		}
		for _, s := range wave {
			done[s.ID] = true
		}
		out = append(out, wave)
		remaining = next
	}
	return out
}
