package pillar

import (
	"strings"

	engerrors "github.com/UpRoot-Company/uprootmcp/internal/errors"
)

// Warning severities.
const (
	WarnHighRisk          = "high_risk"
	WarnHotspotOverlap    = "hotspot_overlap"
	WarnIntegrityConflict = "integrity_conflict"
)

// Warning is one guidance warning.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Guidance is the structured next-step payload attached to responses.
type Guidance struct {
	NextSteps []string  `json:"next_steps,omitempty"`
	Warnings  []Warning `json:"warnings,omitempty"`
	Recovery  string    `json:"recovery,omitempty"`
}

// GuidanceGenerator derives guidance from a request's step history.
type GuidanceGenerator struct{}

// NewGuidanceGenerator creates a generator.
func NewGuidanceGenerator() *GuidanceGenerator {
	return &GuidanceGenerator{}
}

// Generate inspects the context's history plus the intent and hotspots to
// produce next steps, warnings, and a recovery strategy for the last error.
func (g *GuidanceGenerator) Generate(octx *Context, intent ParsedIntent, hotspots []Hotspot) Guidance {
	var guidance Guidance
	steps := octx.Steps()

	var lastErr string
	searched := false
	edited := false
	for _, step := range steps {
		if step.Err != "" {
			lastErr = step.Err
		}
		switch step.Tool {
		case "search_project", "doc_search":
			searched = true
		case "edit_coordinator":
			edited = true
		}
	}

	switch intent.Category {
	case CategoryExplore:
		if searched {
			guidance.NextSteps = append(guidance.NextSteps,
				"expand a cluster with expandRelationships=true for callers/callees",
				"page remaining items with the returned cursor")
		}
	case CategoryUnderstand:
		guidance.NextSteps = append(guidance.NextSteps,
			"profile the top hot-spot files before editing")
	case CategoryChange, CategoryWrite:
		guidance.NextSteps = append(guidance.NextSteps,
			"resolve the edit target before applying a patch")
	}

	if intent.Confidence < 0.8 {
		guidance.NextSteps = append(guidance.NextSteps,
			"the request may fit a different verb; consider rephrasing")
	}

	// High risk: edits touching hot-spot files.
	if edited && len(hotspots) > 0 {
		hotPaths := make(map[string]struct{}, len(hotspots))
		for _, h := range hotspots {
			hotPaths[h.Path] = struct{}{}
		}
		for _, step := range steps {
			if step.Tool != "edit_coordinator" {
				continue
			}
			if _, hot := hotPaths[step.Summary]; hot {
				guidance.Warnings = append(guidance.Warnings, Warning{
					Kind:    WarnHotspotOverlap,
					Message: "edit target " + step.Summary + " is a call-graph hot-spot; changes ripple widely",
				})
			}
		}
	}
	if (intent.Category == CategoryChange || intent.Category == CategoryWrite) && len(intent.Targets) > 3 {
		guidance.Warnings = append(guidance.Warnings, Warning{
			Kind:    WarnHighRisk,
			Message: "change spans many files; split into smaller edits",
		})
	}

	if lastErr != "" {
		if strings.Contains(lastErr, engerrors.ErrCodeHashMismatch) {
			guidance.Warnings = append(guidance.Warnings, Warning{
				Kind:    WarnIntegrityConflict,
				Message: "a file drifted between plan and apply",
			})
			guidance.Recovery = "refresh the file and re-resolve the edit target"
		} else if strings.Contains(lastErr, engerrors.ErrCodeResolveTimeout) {
			guidance.Recovery = "retry with a wider timeout budget"
		} else {
			guidance.Recovery = "retry the last step; see the error detail"
		}
	}

	return guidance
}
