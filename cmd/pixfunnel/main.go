package main

import (
	"fmt"
	"os"
	"path/filepath"

	"pixfunnel/pkg/config"
	"pixfunnel/pkg/logger"
)

const version = "0.1.0"

var configPathOverride string

func main() {
	os.Args = parseGlobalFlags(os.Args)

	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "gateway":
		gatewayCmd()
	case "config":
		configCmd()
	case "version", "--version", "-v":
		fmt.Printf("pixfunnel v%s\n", version)
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}

// parseGlobalFlags strips --debug and --config <path> from the arg list so
// subcommands only see their own arguments.
func parseGlobalFlags(args []string) []string {
	out := []string{args[0]}
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--debug", "-d":
			config.SetDebugMode(true)
			logger.SetLevel(logger.DEBUG)
		case "--config":
			if i+1 < len(args) {
				configPathOverride = args[i+1]
				i++
			}
		default:
			out = append(out, args[i])
		}
	}
	return out
}

func getConfigPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}
	return filepath.Join(config.GetConfigDir(), "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func printHelp() {
	fmt.Println("pixfunnel - Telegram sales funnel bots with PIX checkout")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  pixfunnel gateway              Run bots, conversation engine and dashboard API")
	fmt.Println("  pixfunnel config show          Print the effective configuration")
	fmt.Println("  pixfunnel config init          Write a default config file")
	fmt.Println("  pixfunnel config set-payment <api_base> <api_key>")
	fmt.Println("  pixfunnel version              Print version")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config <path>                Use an alternate config file")
	fmt.Println("  --debug                        Verbose logging, config dir ./.pixfunnel")
}
