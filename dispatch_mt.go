//go:build !nomt

package treerender

// parallelDispatch selects whether ExecuteAvailableTasks hands runnables
// to the worker pool. Building with -tags nomt forces every task inline
// on the calling goroutine, which serializes the whole engine for
// debugging scheduling issues.
const parallelDispatch = true
