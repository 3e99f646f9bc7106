package build

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultHomeDir returns the OS-appropriate application data directory
// for dirName (e.g. ".coinswap"), mirroring lnd's btcutil.AppDataDir
// helper: %LOCALAPPDATA% on Windows, ~/Library/Application Support on
// macOS, and $HOME/<dirname> (without the leading dot trimmed) on
// everything else.
func DefaultHomeDir(dirName string) string {
	if homeDir := os.Getenv("COINSWAP_HOME"); homeDir != "" {
		return homeDir
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".", dirName)
	}

	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = home
		}
		return filepath.Join(appData, dirName)
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", dirName)
	default:
		return filepath.Join(home, dirName)
	}
}
