package search

import (
	"sort"

	"github.com/UpRoot-Company/uprootmcp/internal/graph"
)

// ClusterBuilder assembles relationship clusters around seeds using the
// unified context graph.
type ClusterBuilder struct {
	ucg *graph.UCG
}

// NewClusterBuilder creates a builder over the graph.
func NewClusterBuilder(ucg *graph.UCG) *ClusterBuilder {
	return &ClusterBuilder{ucg: ucg}
}

// Build creates a cluster for one seed. Cheap containers (colocated,
// siblings) load eagerly from the symbol index; expensive ones (callers,
// callees, typeFamily) load only when expand is set and otherwise stay
// NOT_LOADED with an expansion hint.
func (b *ClusterBuilder) Build(seed Seed, expand bool) *Cluster {
	cluster := &Cluster{
		ID:             ClusterID(seed.Path, seed.SymbolName),
		Seed:           seed,
		RelevanceScore: seed.Score,
	}

	cluster.Colocated = b.colocated(seed)
	cluster.Siblings = b.siblings(seed)

	if expand {
		ref := graph.SymbolRef{Path: seed.Path, Name: seed.SymbolName}
		cluster.Callers = capContainer(refsToItems(b.ucg.Callers(ref)), CapCalls)
		cluster.Callees = capContainer(refsToItems(b.ucg.Callees(ref)), CapCalls)
		cluster.TypeFamily = b.typeFamily(seed)
	} else {
		cluster.Callers = Container{State: StateNotLoaded}
		cluster.Callees = Container{State: StateNotLoaded}
		cluster.TypeFamily = Container{State: StateNotLoaded}
	}

	cluster.ClusterType = classify(cluster)
	cluster.TokenEstimate = estimateTokens(cluster)
	return cluster
}

// Rank orders clusters: relevance desc, cluster-type weight desc, then the
// stable cluster id.
func Rank(clusters []*Cluster) {
	sort.Slice(clusters, func(i, j int) bool {
		a, b := clusters[i], clusters[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		wa, wb := clusterTypeWeight(a.ClusterType), clusterTypeWeight(b.ClusterType)
		if wa != wb {
			return wa > wb
		}
		return a.ID < b.ID
	})
}

func (b *ClusterBuilder) colocated(seed Seed) Container {
	symbols := b.ucg.Colocated(seed.Path, seed.SymbolName)
	items := make([]RelatedItem, 0, len(symbols))
	for _, sym := range symbols {
		items = append(items, RelatedItem{Path: seed.Path, Symbol: sym.Name})
	}
	return capContainer(items, CapColocated)
}

func (b *ClusterBuilder) siblings(seed Seed) Container {
	paths := b.ucg.Siblings(seed.Path)
	items := make([]RelatedItem, 0, len(paths))
	for _, p := range paths {
		items = append(items, RelatedItem{Path: p})
	}
	return capContainer(items, CapSiblings)
}

func (b *ClusterBuilder) typeFamily(seed Seed) Container {
	if seed.SymbolName == "" {
		return Container{State: StateEmpty}
	}
	family := b.ucg.TypeFamily(seed.SymbolName)
	items := make([]RelatedItem, 0, len(family))
	for _, name := range family {
		items = append(items, RelatedItem{Symbol: name})
	}
	return capContainer(items, CapTypes)
}

// capContainer applies a hard cap, marking TRUNCATED with the total count
// when exceeded.
func capContainer(items []RelatedItem, limit int) Container {
	if len(items) == 0 {
		return Container{State: StateEmpty}
	}
	if len(items) > limit {
		return Container{
			State:      StateTruncated,
			Items:      items[:limit],
			TotalCount: len(items),
		}
	}
	return Container{State: StateLoaded, Items: items}
}

func refsToItems(refs []graph.SymbolRef) []RelatedItem {
	items := make([]RelatedItem, 0, len(refs))
	for _, ref := range refs {
		items = append(items, RelatedItem{Path: ref.Path, Symbol: ref.Name})
	}
	return items
}

// classify picks the cluster type from the dominant populated container.
func classify(c *Cluster) ClusterType {
	calls := containerLen(c.Callers) + containerLen(c.Callees)
	types := containerLen(c.TypeFamily)
	module := containerLen(c.Colocated) + containerLen(c.Siblings)

	switch {
	case calls > types && calls > module:
		return ClusterFunctionChain
	case types > calls && types > module:
		return ClusterTypeHierarchy
	case module > 0 && calls == 0 && types == 0:
		return ClusterModuleBoundary
	default:
		return ClusterMixed
	}
}

func containerLen(c Container) int {
	if c.State == StateLoaded || c.State == StateTruncated {
		return len(c.Items)
	}
	return 0
}

// estimateTokens sums the per-section budget constants.
func estimateTokens(c *Cluster) int {
	total := tokensSeed
	total += containerLen(c.Callers) * tokensPerRelation
	total += containerLen(c.Callees) * tokensPerRelation
	total += containerLen(c.TypeFamily) * tokensPerRelation
	total += containerLen(c.Colocated) * tokensPerColocated
	total += containerLen(c.Siblings) * tokensPerSibling
	return total
}

// HintsFor lists the unloaded expensive containers of the top clusters.
func HintsFor(clusters []*Cluster) ExpansionHints {
	var hints ExpansionHints
	seen := make(map[string]struct{})
	add := func(name string) {
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			hints.RecommendedExpansions = append(hints.RecommendedExpansions, name)
		}
	}
	for _, c := range clusters {
		if c.Callers.State == StateNotLoaded {
			add("callers")
		}
		if c.Callees.State == StateNotLoaded {
			add("callees")
		}
		if c.TypeFamily.State == StateNotLoaded {
			add("typeFamily")
		}
	}
	return hints
}
