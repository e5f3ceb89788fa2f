//go:build nomt

package treerender

// parallelDispatch is forced off by the nomt build tag: every ready task
// runs inline on the goroutine calling ExecuteAvailableTasks.
const parallelDispatch = false
