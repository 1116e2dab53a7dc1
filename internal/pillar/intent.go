package pillar

import "strings"

// Category is the top-level verb family.
type Category string

const (
	CategoryExplore    Category = "explore"
	CategoryUnderstand Category = "understand"
	CategoryChange     Category = "change"
	CategoryManage     Category = "manage"
	CategoryWrite      Category = "write"
)

// Depth requests how far eager loading should reach.
type Depth string

const (
	DepthShallow Depth = "shallow"
	DepthNormal  Depth = "normal"
	DepthDeep    Depth = "deep"
)

// Constraints bound a request.
type Constraints struct {
	Depth      Depth `json:"depth,omitempty"`
	MaxResults int   `json:"max_results,omitempty"`
	// IncludeGraphs/ExcludeGraphs force or forbid dependency/call-graph
	// pre-loading regardless of the depth heuristic.
	IncludeGraphs bool `json:"include_graphs,omitempty"`
	ExcludeGraphs bool `json:"exclude_graphs,omitempty"`
}

// ParsedIntent is the routed interpretation of a request.
type ParsedIntent struct {
	Category    Category    `json:"category"`
	Targets     []string    `json:"targets,omitempty"`
	Query       string      `json:"query,omitempty"`
	Constraints Constraints `json:"constraints"`
	Confidence  float64     `json:"confidence"`
	// Navigate is set when the query reads as a navigation request,
	// which triggers profile pre-loading.
	Navigate bool `json:"navigate,omitempty"`
}

// navigationMarkers flag navigation-flavored queries.
var navigationMarkers = []string{
	"where is", "find the", "locate", "which file", "go to", "navigate",
}

// deepMarkers flag requests that warrant deep eager loading.
var deepMarkers = []string{
	"architecture", "how does", "end to end", "call chain", "trace",
	"data flow", "lifecycle",
}

// ParseIntent interprets a verb plus its inputs into a routed intent.
func ParseIntent(verb Category, query string, targets []string, constraints Constraints) ParsedIntent {
	intent := ParsedIntent{
		Category:    verb,
		Query:       query,
		Targets:     targets,
		Constraints: constraints,
		Confidence:  1.0,
	}

	lower := strings.ToLower(query)
	if lower != "" {
		for _, marker := range navigationMarkers {
			if strings.Contains(lower, marker) {
				intent.Navigate = true
				break
			}
		}
		if intent.Constraints.Depth == "" {
			intent.Constraints.Depth = DepthNormal
			for _, marker := range deepMarkers {
				if strings.Contains(lower, marker) {
					intent.Constraints.Depth = DepthDeep
					break
				}
			}
		}
		// A verb with an off-category query keeps routing but lowers
		// confidence so guidance can suggest the better verb.
		if verb == CategoryExplore && strings.Contains(lower, "edit ") {
			intent.Confidence = 0.6
		}
	} else if intent.Constraints.Depth == "" {
		intent.Constraints.Depth = DepthShallow
	}

	return intent
}
