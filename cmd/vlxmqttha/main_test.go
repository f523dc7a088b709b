package main

import (
	"os"
	"testing"
)

func TestGetConfigPath(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()

	os.Args = []string{"vlxmqttha"}
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	os.Args = []string{"vlxmqttha", "/etc/vlxmqttha/config.yaml"}
	if got := getConfigPath(); got != "/etc/vlxmqttha/config.yaml" {
		t.Errorf("getConfigPath() = %q, want positional argument", got)
	}
}
