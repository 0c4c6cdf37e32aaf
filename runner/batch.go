package runner

import (
	"github.com/testadapt/testadapt/types"
)

// maxBatchIdentityChars bounds the cumulative identity length of one spawned
// process's filter so command lines stay under OS argument limits.
const maxBatchIdentityChars = 30000

// roundRobinPartition deals nodes into n buckets, preserving relative order
// within each bucket. Empty buckets are dropped.
func roundRobinPartition(nodes []*types.TestNode, n int) [][]*types.TestNode {
	if n < 1 {
		n = 1
	}
	if n > len(nodes) {
		n = len(nodes)
	}
	if n == 0 {
		return nil
	}
	buckets := make([][]*types.TestNode, n)
	for i, node := range nodes {
		buckets[i%n] = append(buckets[i%n], node)
	}
	return buckets
}

// splitByIdentityBudget splits one bucket into sub-batches whose cumulative
// identity length stays within the budget. A single oversized identity still
// gets its own batch.
func splitByIdentityBudget(nodes []*types.TestNode, budget int) [][]*types.TestNode {
	if budget <= 0 {
		budget = maxBatchIdentityChars
	}
	var batches [][]*types.TestNode
	var current []*types.TestNode
	used := 0
	for _, node := range nodes {
		cost := len(node.ID)
		if len(current) > 0 && used+cost > budget {
			batches = append(batches, current)
			current = nil
			used = 0
		}
		current = append(current, node)
		used += cost
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func identities(nodes []*types.TestNode) []string {
	ids := make([]string, len(nodes))
	for i, node := range nodes {
		ids[i] = node.ID
	}
	return ids
}
