package consolidate

import "strings"

// tokenSetSim is the Jaccard similarity of the two strings' token sets.
func tokenSetSim(a, b string) float64 {
	ta := tokens(a)
	tb := tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	inter := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokens(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = struct{}{}
	}
	return set
}

// similarity combines name, normalized name and brand into one weighted
// score. When either brand is unknown the name components carry the full
// weight instead of penalizing the pair.
func similarity(a, b item) float64 {
	s := 0.55*tokenSetSim(a.normName, b.normName) + 0.25*tokenSetSim(a.name, b.name)

	if a.brand != "" && b.brand != "" {
		if strings.EqualFold(strings.TrimSpace(a.brand), strings.TrimSpace(b.brand)) {
			s += 0.20
		}
		return s
	}
	return s / 0.80
}

// unionFind is a standard disjoint-set over item indexes.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		if ra > rb {
			ra, rb = rb, ra
		}
		// Attach the larger root under the smaller for deterministic trees.
		u.parent[rb] = ra
	}
}
