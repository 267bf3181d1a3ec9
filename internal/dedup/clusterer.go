package dedup

import "sort"

// Cluster is a group of farm entries determined to name the same physical
// farm, with the canonical name and merge confidence chosen for it.
type Cluster struct {
	CanonicalName  string
	Entries        []Entry
	TotalBeanCount int
	Confidence     float64
}

// ClusterFarms groups entries via pairwise ShouldMerge comparisons fed
// into a Union-Find (§4.9 steps 1-4): O(n²) comparison, then canonical
// name selection and confidence averaging per resulting cluster. Clusters
// are returned sorted by total bean count, most popular first.
func ClusterFarms(entries []Entry, nameThreshold float64) []Cluster {
	n := len(entries)
	if n == 0 {
		return nil
	}

	uf := NewUnionFind(n)
	confidences := make(map[int][]float64)

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			should, confidence := ShouldMerge(entries[i], entries[j], nameThreshold)
			if !should {
				continue
			}

			rootBeforeI, rootBeforeJ := uf.Find(i), uf.Find(j)
			uf.Union(i, j)
			newRoot := uf.Find(i)
			confidences[newRoot] = append(confidences[newRoot], confidence)

			if rootBeforeI != rootBeforeJ {
				if rootBeforeI != newRoot {
					confidences[newRoot] = append(confidences[newRoot], confidences[rootBeforeI]...)
					delete(confidences, rootBeforeI)
				}
				if rootBeforeJ != newRoot {
					confidences[newRoot] = append(confidences[newRoot], confidences[rootBeforeJ]...)
					delete(confidences, rootBeforeJ)
				}
			}
		}
	}

	groups := make(map[int][]Entry)
	var order []int
	seen := make(map[int]bool)
	for i, e := range entries {
		root := uf.Find(i)
		if !seen[root] {
			seen[root] = true
			order = append(order, root)
		}
		groups[root] = append(groups[root], e)
	}

	clusters := make([]Cluster, 0, len(order))
	for _, root := range order {
		group := groups[root]
		total := 0
		for _, e := range group {
			total += e.BeanCount
		}

		cs := confidences[root]
		avg := 1.0 // singleton gets 1.0
		if len(cs) > 0 {
			sum := 0.0
			for _, c := range cs {
				sum += c
			}
			avg = sum / float64(len(cs))
		}

		clusters = append(clusters, Cluster{
			CanonicalName:  SelectCanonicalName(group),
			Entries:        group,
			TotalBeanCount: total,
			Confidence:     avg,
		})
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].TotalBeanCount > clusters[j].TotalBeanCount
	})

	return clusters
}

// SelectCanonicalName picks the representative farm name for a cluster:
// highest bean count wins; ties break on the longer, more formal name.
func SelectCanonicalName(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.BeanCount > best.BeanCount || (e.BeanCount == best.BeanCount && len(e.FarmName) > len(best.FarmName)) {
			best = e
		}
	}
	return best.FarmName
}
