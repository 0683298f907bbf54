// Package dispatch provides the asynchronous work queue that fronts the
// compute kernels.
//
// A Queue accepts typed items, runs at most MaxInFlight of them at a time on
// a worker pool, and hands results back through Poll. Cancellation removes
// pending items and abandons running ones; abandoned results are passed to
// the item's Discard function instead of being delivered.
//
// Basic usage:
//
//	q, err := dispatch.New[*Mesh](dispatch.Config{MaxInFlight: 4})
//	h := q.Submit(dispatch.Item[*Mesh]{Label: "surface", Priority: 0.5, Run: extract})
//	...
//	for _, c := range q.Poll() {
//	    if c.Handle == h && c.Status == dispatch.StatusDone {
//	        use(c.Value)
//	    }
//	}
package dispatch
