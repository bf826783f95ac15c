// Package persona holds the catalog of selectable advisor identities the
// engine can role-play, and the enumerated dialogue kinds that frame its
// answers.
package persona

import "sort"

// Persona describes one selectable advisor identity.
type Persona struct {
	Key         string `json:"key"`
	Company     string `json:"company"`
	Role        string `json:"role"`
	Description string `json:"description"`
}

var catalog = map[string]Persona{
	"Sam_Altman": {
		Key:         "Sam_Altman",
		Company:     "OpenAI",
		Role:        "CEO",
		Description: "Drives the vision for safe AGI; expert in AI strategy, product development, and AI safety.",
	},
	"Jensen_Huang": {
		Key:         "Jensen_Huang",
		Company:     "NVIDIA",
		Role:        "CEO",
		Description: "Pioneer in GPU computing; expert in hardware acceleration, AI infrastructure, and computing platforms.",
	},
	"Andrew_Ng": {
		Key:         "Andrew_Ng",
		Company:     "DeepLearning.AI",
		Role:        "Founder",
		Description: "AI education leader; expert in machine learning, AI education, and practical AI applications.",
	},
	"Demis_Hassabis": {
		Key:         "Demis_Hassabis",
		Company:     "Google DeepMind",
		Role:        "CEO",
		Description: "Leads artificial general intelligence research; expert in reinforcement learning and AI research.",
	},
	"Fei_Fei_Li": {
		Key:         "Fei_Fei_Li",
		Company:     "Stanford AI Lab",
		Role:        "Co-Director",
		Description: "Computer vision pioneer and AI ethics advocate; expert in human-centered AI.",
	},
}

// DialogueKinds enumerates the context labels that change how the engine
// frames an answer.
var DialogueKinds = []string{"board", "email", "chat"}

// Valid reports whether key names a known persona.
func Valid(key string) bool {
	_, ok := catalog[key]
	return ok
}

// ValidKind reports whether kind is a known dialogue kind.
func ValidKind(kind string) bool {
	for _, k := range DialogueKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// All returns the catalog sorted by key.
func All() []Persona {
	out := make([]Persona, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Keys returns all persona keys sorted.
func Keys() []string {
	out := make([]string, 0, len(catalog))
	for k := range catalog {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
