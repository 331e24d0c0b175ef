package config

import (
	"os"
	"path/filepath"
)

// XDGConfigHome returns the XDG config home or a default fallback.
func XDGConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".config")
}

// DefaultConfigPath returns the default TOML config path.
func DefaultConfigPath() string {
	return filepath.Join(XDGConfigHome(), "inkstats", "config.toml")
}

// DefaultDatabasePath returns the vendor database path on a mounted device,
// or empty when no standard mount point exists.
func DefaultDatabasePath() string {
	candidates := []string{
		filepath.Join("/media", os.Getenv("USER"), "KOBOeReader", ".kobo", "KoboReader.sqlite"),
		filepath.Join("/run/media", os.Getenv("USER"), "KOBOeReader", ".kobo", "KoboReader.sqlite"),
		filepath.Join("/Volumes", "KOBOeReader", ".kobo", "KoboReader.sqlite"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
