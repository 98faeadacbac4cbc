package gbrt

import "sort"

// node is either a split (feature, threshold) or a leaf carrying a weight.
// Rows with x[feature] < threshold go left.
type node struct {
	feature   int
	threshold float64
	left      int
	right     int
	leaf      bool
	value     float64
}

type tree struct {
	nodes []node
}

func (t *tree) predict(x []float64) float64 {
	i := 0
	for !t.nodes[i].leaf {
		n := t.nodes[i]
		if x[n.feature] < n.threshold {
			i = n.left
		} else {
			i = n.right
		}
	}
	return t.nodes[i].value
}

type split struct {
	gain      float64
	feature   int
	threshold float64
	gl, hl    float64
}

// grower builds one tree level by level with exact greedy split search.
// Hessians are all 1 for squared error, so H equals the row count.
type grower struct {
	x       [][]float64
	sorted  [][]int // row indices per feature, ascending by value
	lambda  float64
	minHess float64
	minGain float64
}

func newGrower(x [][]float64, lambda, minHess float64) *grower {
	nFeat := len(x[0])
	sorted := make([][]int, nFeat)
	for f := 0; f < nFeat; f++ {
		idx := make([]int, len(x))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]][f] < x[idx[b]][f] })
		sorted[f] = idx
	}
	return &grower{x: x, sorted: sorted, lambda: lambda, minHess: minHess, minGain: 1e-9}
}

func (g *grower) weight(G, H float64) float64 {
	return -G / (H + g.lambda)
}

func (g *grower) score(G, H float64) float64 {
	return G * G / (H + g.lambda)
}

// grow fits one tree to the gradients and returns it together with each row's leaf value.
func (g *grower) grow(grad []float64, maxDepth int) (*tree, []float64) {
	n := len(grad)
	pos := make([]int, n) // node id per row
	var G0 float64
	for _, v := range grad {
		G0 += v
	}
	t := &tree{nodes: []node{{}}}
	sumG := []float64{G0}
	sumH := []float64{float64(n)}
	active := []int{0}

	for depth := 0; depth < maxDepth && len(active) > 0; depth++ {
		best := make(map[int]*split, len(active))
		isActive := make([]bool, len(t.nodes))
		for _, id := range active {
			isActive[id] = true
		}

		gl := make([]float64, len(t.nodes))
		hl := make([]float64, len(t.nodes))
		last := make([]float64, len(t.nodes))
		seen := make([]bool, len(t.nodes))
		for f, order := range g.sorted {
			for _, id := range active {
				gl[id], hl[id], seen[id] = 0, 0, false
			}
			for _, i := range order {
				id := pos[i]
				if !isActive[id] {
					continue
				}
				v := g.x[i][f]
				if seen[id] && v != last[id] {
					g.consider(best, id, f, (last[id]+v)/2, gl[id], hl[id], sumG[id], sumH[id])
				}
				gl[id] += grad[i]
				hl[id]++
				last[id] = v
				seen[id] = true
			}
		}

		var next []int
		for _, id := range active {
			s, ok := best[id]
			if !ok {
				continue
			}
			left, right := len(t.nodes), len(t.nodes)+1
			t.nodes[id] = node{feature: s.feature, threshold: s.threshold, left: left, right: right}
			t.nodes = append(t.nodes, node{}, node{})
			sumG = append(sumG, s.gl, sumG[id]-s.gl)
			sumH = append(sumH, s.hl, sumH[id]-s.hl)
			next = append(next, left, right)
		}
		for i := range pos {
			id := pos[i]
			if id < len(isActive) && isActive[id] && !t.nodes[id].leaf && t.nodes[id].left != 0 {
				nd := t.nodes[id]
				if g.x[i][nd.feature] < nd.threshold {
					pos[i] = nd.left
				} else {
					pos[i] = nd.right
				}
			}
		}
		for _, id := range active {
			if _, ok := best[id]; !ok {
				t.nodes[id] = node{leaf: true, value: g.weight(sumG[id], sumH[id])}
			}
		}
		active = next
	}
	for _, id := range active {
		t.nodes[id] = node{leaf: true, value: g.weight(sumG[id], sumH[id])}
	}

	out := make([]float64, n)
	for i, id := range pos {
		out[i] = t.nodes[id].value
	}
	return t, out
}

func (g *grower) consider(best map[int]*split, id, f int, thr, GL, HL, G, H float64) {
	HR := H - HL
	if HL < g.minHess || HR < g.minHess {
		return
	}
	GR := G - GL
	gain := 0.5 * (g.score(GL, HL) + g.score(GR, HR) - g.score(G, H))
	if gain <= g.minGain {
		return
	}
	if b, ok := best[id]; ok && gain <= b.gain {
		return
	}
	best[id] = &split{gain: gain, feature: f, threshold: thr, gl: GL, hl: HL}
}
