//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed on the headless renderer. CONFIG selects a TOML file.
func (Run) Engine() error {
	mg.Deps(tidy)
	fmt.Println("Run engine...")
	args := []string{"run", ".", "-renderer", "headless"}
	if path := os.Getenv("CONFIG"); path != "" {
		args = append(args, "-config", path)
	}
	if _, err := executeCmd("go", withArgs(args...), withStream()); err != nil {
		return err
	}
	return nil
}
