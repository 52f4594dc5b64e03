// Package cmd provides the CLI entry points for Adjutant.
//
// Running without arguments starts the interactive chat interface; version
// and help are handled before any configuration is loaded so they work even
// with an incomplete environment.
package cmd

import (
	"fmt"
	"os"
)

// Execute is the main entry point for the Adjutant CLI application.
func Execute() error {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			runVersion()
			return nil
		case "help", "--help", "-h":
			runHelp()
			return nil
		default:
			return fmt.Errorf("unknown command: %s", os.Args[1])
		}
	}

	return runChat()
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Adjutant - log meals, workouts, and expenses from your terminal")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  adjutant             Start interactive chat mode")
	fmt.Println("  adjutant --version   Show version information")
	fmt.Println("  adjutant --help      Show this help")
	fmt.Println()
	fmt.Println("Chat Commands (in interactive mode):")
	fmt.Println("  /help                Show available commands")
	fmt.Println("  /new                 Start a new session")
	fmt.Println("  /retry               Retry the last failed message")
	fmt.Println("  /exit, /quit         Exit Adjutant")
	fmt.Println()
	fmt.Println("Shortcuts:")
	fmt.Println("  Ctrl+D               Exit Adjutant")
	fmt.Println("  Ctrl+C               Cancel current turn / clear input")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  OPENAI_API_KEY         Required: OpenAI API key")
	fmt.Println("  ADJUTANT_WEBHOOK_URL   Required: event storage webhook")
	fmt.Println("  ADJUTANT_MODEL         Optional: model override")
	fmt.Println("  ADJUTANT_LOG_LEVEL     Optional: debug, info, warn, error")
	fmt.Println()
	fmt.Println("Config file: ~/.adjutant/config.yaml")
}
