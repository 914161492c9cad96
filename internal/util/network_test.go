package util

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestDetectNetworkFilesystem(t *testing.T) {
	info, err := DetectNetworkFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("DetectNetworkFilesystem failed: %v", err)
	}
	// temp may live on network storage in some CI setups, so only log it
	if info.IsNetwork {
		t.Logf("Temp directory is on network storage (%s)", info.Protocol)
	}

	if runtime.GOOS == "windows" {
		return // drive type lookups do not need the path to exist
	}
	if _, err := DetectNetworkFilesystem(filepath.Join(t.TempDir(), "missing", "library")); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestTuneForLibrary(t *testing.T) {
	yes, no := true, false
	root := t.TempDir()

	tests := []struct {
		name    string
		nasMode *bool
		network bool
	}{
		{"forced on", &yes, true},
		{"forced off", &no, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := TuneForLibrary(root, tt.nasMode)
			if cfg.NetworkOptimized != tt.network {
				t.Errorf("NetworkOptimized = %v, want %v", cfg.NetworkOptimized, tt.network)
			}
			wantRetry := LibraryRetryConfig()
			wantBuffer := 128 * 1024
			if tt.network {
				wantRetry = NASRetryConfig()
				wantBuffer = 256 * 1024
			}
			if cfg.BufferSize != wantBuffer || cfg.Retry.MaxAttempts != wantRetry.MaxAttempts {
				t.Errorf("unexpected settings %+v", cfg)
			}
		})
	}
}

func TestTuneForLibraryAutoDetect(t *testing.T) {
	cfg := TuneForLibrary(t.TempDir(), nil)
	if cfg.NetworkOptimized != (cfg.DetectedInfo != nil) {
		t.Errorf("network settings must come with detection info: %+v", cfg)
	}

	// detection failure falls back to local settings
	cfg = TuneForLibrary(filepath.Join(t.TempDir(), "missing"), nil)
	if cfg.NetworkOptimized || cfg.Retry == nil {
		t.Errorf("expected local settings for an unreadable root, got %+v", cfg)
	}
}

func TestFormatFSSettings(t *testing.T) {
	yes := true
	if s := FormatFSSettings(TuneForLibrary(t.TempDir(), &yes)); !strings.HasPrefix(s, "network filesystem unknown") {
		t.Errorf("unexpected summary %q", s)
	}
	no := false
	if s := FormatFSSettings(TuneForLibrary(t.TempDir(), &no)); !strings.HasPrefix(s, "local filesystem (buffer 128KB") {
		t.Errorf("unexpected summary %q", s)
	}
}
