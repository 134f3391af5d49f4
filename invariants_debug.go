//go:build debug

package jobsched

// debugBuild turns scheduler invariant violations into panics.
const debugBuild = true

func invariant(err error) {
	panic(err)
}
