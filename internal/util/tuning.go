package util

import "fmt"

// FSConfig holds the filesystem settings a library uses for its book files
type FSConfig struct {
	BufferSize       int
	Retry            *RetryConfig
	NetworkOptimized bool // Apply network-friendly SQLite pragmas
	DetectedInfo     *NetworkInfo
}

// TuneForLibrary inspects the library root and returns settings for it.
// If nasMode is non-nil it overrides detection.
func TuneForLibrary(root string, nasMode *bool) *FSConfig {
	cfg := &FSConfig{
		BufferSize: 128 * 1024,
		Retry:      LibraryRetryConfig(),
	}

	if nasMode != nil {
		if *nasMode {
			applyNASSettings(cfg)
			InfoLog("NAS mode: explicitly enabled for %s", root)
		}
		return cfg
	}

	info, err := DetectNetworkFilesystem(root)
	if err != nil {
		WarnLog("Failed to detect filesystem for library (%s): %v", root, err)
		return cfg
	}
	if info.IsNetwork {
		cfg.DetectedInfo = info
		applyNASSettings(cfg)
		WarnLog("Library %s is on a %s mount (%s); using network settings",
			root, info.Protocol, info.MountPath)
	}
	return cfg
}

func applyNASSettings(cfg *FSConfig) {
	cfg.BufferSize = 256 * 1024
	cfg.Retry = NASRetryConfig()
	cfg.NetworkOptimized = true
}

// FormatFSSettings returns a human-readable summary of cfg
func FormatFSSettings(cfg *FSConfig) string {
	if !cfg.NetworkOptimized {
		return fmt.Sprintf("local filesystem (buffer %dKB, %d attempts)",
			cfg.BufferSize/1024, cfg.Retry.MaxAttempts)
	}
	protocol := "unknown"
	if cfg.DetectedInfo != nil {
		protocol = cfg.DetectedInfo.Protocol
	}
	return fmt.Sprintf("network filesystem %s (buffer %dKB, %d attempts)",
		protocol, cfg.BufferSize/1024, cfg.Retry.MaxAttempts)
}
