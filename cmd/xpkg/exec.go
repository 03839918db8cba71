package main

import (
	"os"
	"os/exec"
)

func lookPath(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return name, nil
}

func envList() []string {
	return os.Environ()
}
