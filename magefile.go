//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const binary = "bin/payhub"

// Default target when running mage without arguments.
var Default = Build

// Build compiles the payhub server binary.
func Build() error {
	fmt.Println("Building payhub...")
	return sh.Run("go", "build", "-o", binary, "./cmd/server")
}

// Test runs the full test suite with the race detector. The
// reconciliation tests deliberately race goroutines, so -race is not
// optional here.
func Test() error {
	return sh.Run("go", "test", "-race", "./...")
}

// TestCover runs tests with a coverage profile.
func TestCover() error {
	return sh.Run("go", "test", "-race", "-coverprofile=coverage.out", "./...")
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.Run("golangci-lint", "run", "./...")
}

// Vet runs go vet.
func Vet() error {
	return sh.Run("go", "vet", "./...")
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll("bin"); err != nil {
		return err
	}
	_ = os.Remove("coverage.out")
	return nil
}

// Tidy runs go mod tidy.
func Tidy() error {
	return sh.Run("go", "mod", "tidy")
}

// All runs tidy, vet, lint, test, and build.
func All() error {
	mg.SerialDeps(Tidy, Vet, Lint, Test, Build)
	return nil
}

// Dev builds and runs the server locally.
func Dev() error {
	mg.Deps(Build)
	cmd := exec.Command("./" + binary)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// CI runs the pipeline used in CI: tidy, vet, test with coverage.
func CI() error {
	mg.SerialDeps(Tidy, Vet, TestCover)
	return nil
}

// Install installs the development tools the other targets call.
func Install() error {
	return sh.Run("go", "install", "github.com/golangci/golangci-lint/cmd/golangci-lint@latest")
}
