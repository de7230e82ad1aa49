//go:build mage
// +build mage

package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

var (
	binDir = "bin"
	tmpDir = "tmp"

	// binary name -> main package
	binaries = map[string]string{
		"rentbridge-api":     "./cmd/web",
		"rentbridge-migrate": "./cmd/tools/migrate",
		"mockwebhook":        "./cmd/tools/mockwebhook",
	}
)

var Default = Dev

// Dev: tidy, then hot reload with air or fall back to go run
func Dev() error {
	mg.Deps(Tidy)

	if _, err := exec.LookPath("air"); err == nil {
		fmt.Println("Starting hot-reload with air ...")
		return sh.RunV("air")
	}

	fmt.Println("air not found. Falling back to `go run ./cmd/web`.")
	fmt.Println("Install with: mage Tools")
	return Run()
}

func Run() error {
	fmt.Println("Running (go run) on :8080 ...")
	return sh.RunV("go", "run", "./cmd/web")
}

// Build: static binaries for the API and the operator tools into bin/
func Build() error {
	mg.Deps(Tidy)

	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	// Release builds target mysql; the cgo sqlite driver is for dev and tests.
	env := map[string]string{"CGO_ENABLED": "0"}
	for name, pkg := range binaries {
		out := filepath.Join(binDir, name+exeSuffix())
		fmt.Println("Building:", out)
		if err := sh.RunWithV(env, "go", "build", "-trimpath", "-o", out, pkg); err != nil {
			return err
		}
	}
	return nil
}

// Test: unit and HTTP tests (sqlite in-memory, needs cgo for go-sqlite3)
func Test() error {
	fmt.Println("Testing...")
	return sh.RunV("go", "test", "./...", "-count=1")
}

func TestRace() error {
	fmt.Println("Testing with -race...")
	return sh.RunV("go", "test", "./...", "-race", "-count=1")
}

// Cover: writes tmp/cover.out and prints the per-function summary
func Cover() error {
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return err
	}
	profile := filepath.Join(tmpDir, "cover.out")
	if err := sh.RunV("go", "test", "./...", "-count=1", "-coverprofile="+profile); err != nil {
		return err
	}
	return sh.RunV("go", "tool", "cover", "-func="+profile)
}

func Fmt() error {
	fmt.Println("Formatting...")
	return sh.RunV("gofmt", "-w", "./cmd", "./internal", "./magefile.go")
}

func Lint() error {
	fmt.Println("Linting (golangci-lint)...")
	if _, err := exec.LookPath("golangci-lint"); err != nil {
		return fmt.Errorf("golangci-lint not found. Install with: mage Tools")
	}
	return sh.RunV("golangci-lint", "run", "--timeout=3m", "./...")
}

func Check() error {
	mg.Deps(Fmt, Lint, Test)
	fmt.Println("Check OK.")
	return nil
}

func Tidy() error {
	fmt.Println("Tidying go.mod/go.sum...")
	return sh.RunV("go", "mod", "tidy")
}

func Clean() error {
	fmt.Println("Cleaning...")
	_ = os.RemoveAll(binDir)
	_ = os.RemoveAll(tmpDir)
	return nil
}

// Tools: install air and golangci-lint (v2)
func Tools() error {
	fmt.Println("Installing tools (air, golangci-lint)...")

	if err := sh.RunV("go", "install", "github.com/air-verse/air@latest"); err != nil {
		return err
	}
	if err := sh.RunV("go", "install", "github.com/golangci/golangci-lint/v2/cmd/golangci-lint@latest"); err != nil {
		return err
	}

	for _, bin := range []string{"air", "golangci-lint"} {
		if _, err := exec.LookPath(bin); err != nil && !errors.Is(err, exec.ErrNotFound) {
			return err
		}
	}

	fmt.Println("Tools installed. Ensure GOBIN/GOPATH/bin is in PATH.")
	return nil
}

// Migrate: create or update the payment tables (DB_DRIVER/DB_DSN from env)
func Migrate() error {
	return sh.RunV("go", "run", "./cmd/tools/migrate")
}

// MigrateLocal: payment tables plus users, leases and sessions for a dev database
func MigrateLocal() error {
	return sh.RunV("go", "run", "./cmd/tools/migrate", "-with-shared")
}

// MockWebhook: send a signed checkout.session.completed for PAYMENT_ID/AMOUNT_CENTS
func MockWebhook() error {
	id := os.Getenv("PAYMENT_ID")
	if id == "" {
		return errors.New("PAYMENT_ID is required")
	}
	amount := os.Getenv("AMOUNT_CENTS")
	if amount == "" {
		amount = "0"
	}
	return sh.RunV("go", "run", "./cmd/tools/mockwebhook", "-payment-id", id, "-amount", amount)
}

func exeSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}
