package cmd

import (
	"fmt"
	"os"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "development"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// runVersion displays version and build information. It runs before config
// loading so it works even when required configuration is missing.
func runVersion() {
	fmt.Printf("Zonda %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Println()

	// Show whether the API key is present without printing it whole.
	key := os.Getenv("GEMINI_API_KEY")
	switch {
	case len(key) >= 8:
		fmt.Printf("GEMINI_API_KEY: %s...%s (configured)\n", key[:4], key[len(key)-4:])
	case key != "":
		fmt.Println("GEMINI_API_KEY: configured")
	default:
		fmt.Println("GEMINI_API_KEY: not set")
		fmt.Println()
		fmt.Println("Hint: export GEMINI_API_KEY=your-api-key")
	}
}
