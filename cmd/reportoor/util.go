package main

import (
	"os"
	"path/filepath"
)

// envLookup is the environment used for CI metadata.
var envLookup = os.Getenv

func valueOr(v, def string) string {
	if v != "" {
		return v
	}

	return def
}

// besideReport resolves name relative to the report's directory unless it
// is already a path.
func besideReport(report, name string) string {
	if filepath.IsAbs(name) || filepath.Base(name) != name {
		return name
	}

	return filepath.Join(filepath.Dir(report), name)
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}

	return info.Size()
}
