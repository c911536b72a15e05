package causalgraph

// lvHeap is a max-heap of distinct LVs, used by the DAG-walk algorithms
// (version_contains, diff) per the design note that these are naturally
// expressed as an explicit state machine over a binary heap of pending
// LVs rather than as suspended recursive computations.
type lvHeap []LV

func (h lvHeap) Len() int            { return len(h) }
func (h lvHeap) Less(i, j int) bool  { return h[i] > h[j] } // max-heap
func (h lvHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *lvHeap) Push(x interface{}) { *h = append(*h, x.(LV)) }
func (h *lvHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
