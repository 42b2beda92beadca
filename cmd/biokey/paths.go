package main

import (
	"os"
	"path/filepath"
)

// biokeyHome returns the path to the biokey home directory (~/.biokey).
func biokeyHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".biokey"), nil
}
