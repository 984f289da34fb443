// Package main provides the database migration CLI tool for eventgate.
//
// Migrations are embedded in the binary, so the tool runs with zero
// filesystem dependencies: point DATABASE_URL at the hot store and go.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "migrator"
)

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if *showHelp || flag.NArg() < 1 {
		printUsage()
		os.Exit(0)
	}

	runner, err := NewRunner(os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}
	defer runner.Close()

	if err := executeCommand(flag.Arg(0), runner); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

// executeCommand runs the specified migration command.
func executeCommand(command string, runner *Runner) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "drop":
		fmt.Print("WARNING: This will drop all pipeline tables. Are you sure? (y/N): ")

		var response string

		_, _ = fmt.Scanln(&response)

		if response == "y" || response == "Y" {
			return runner.Drop()
		}

		fmt.Println("Operation cancelled.")

		return nil
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// printUsage displays usage information.
func printUsage() {
	fmt.Printf(`%s v%s - Database Migration Tool for eventgate

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up      Apply all pending migrations
    down    Rollback the last migration
    status  Show current migration version
    drop    Drop all tables (requires confirmation)

OPTIONS:
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    DATABASE_URL    PostgreSQL connection string (REQUIRED)

EXAMPLES:
    %s up        # Apply all pending migrations
    %s status    # Show current migration version
    %s down      # Rollback last migration

Migrations are embedded in the binary; no migration files are read from disk.
`, name, version, name, name, name, name)
}
