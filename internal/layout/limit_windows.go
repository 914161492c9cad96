//go:build windows

package layout

// PathLimit is the per-segment budget. Windows counts the whole path against
// MAX_PATH, so segments stay short.
const PathLimit = 40

const isWindows = true
