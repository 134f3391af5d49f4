//go:build !debug

package jobsched

const debugBuild = false

// invariant is a no-op in release builds; callers take their fallback path.
func invariant(error) {}
