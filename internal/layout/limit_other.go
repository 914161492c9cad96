//go:build !windows

package layout

// PathLimit is the per-segment budget
const PathLimit = 100

const isWindows = false
