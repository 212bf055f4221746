package main

import (
	"encoding/json"
	"fmt"
	"os"

	"pixfunnel/pkg/config"
)

func configCmd() {
	if len(os.Args) < 3 {
		configHelp()
		os.Exit(1)
	}

	switch os.Args[2] {
	case "show":
		configShow()
	case "init":
		configInit()
	case "set-payment":
		configSetPayment()
	case "path":
		fmt.Println(getConfigPath())
	default:
		fmt.Printf("Unknown config subcommand: %s\n", os.Args[2])
		configHelp()
		os.Exit(1)
	}
}

func configShow() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		fmt.Printf("Failed to render config: %v\n", err)
		os.Exit(1)
	}

	// Never print the payment key itself.
	var shown map[string]interface{}
	if err := json.Unmarshal(raw, &shown); err != nil {
		fmt.Printf("Failed to render config: %v\n", err)
		os.Exit(1)
	}
	if p, ok := shown["payment"].(map[string]interface{}); ok {
		if key, _ := p["api_key"].(string); key != "" {
			p["api_key"] = "****"
		}
	}

	data, _ := json.MarshalIndent(shown, "", "  ")
	fmt.Println(string(data))
}

func configInit() {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists at %s\n", path)
		os.Exit(1)
	}

	if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
		fmt.Printf("Failed to write config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config written to %s\n", path)
}

func configSetPayment() {
	if len(os.Args) < 5 {
		fmt.Println("Usage: pixfunnel config set-payment <api_base> <api_key>")
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	cfg.SetPaymentCredentials(os.Args[3], os.Args[4])
	if err := config.SaveConfig(getConfigPath(), cfg); err != nil {
		fmt.Printf("Failed to save config: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Payment credentials updated")
}

func configHelp() {
	fmt.Println("Usage: pixfunnel config <subcommand>")
	fmt.Println()
	fmt.Println("Subcommands:")
	fmt.Println("  show                          Print the effective configuration (key masked)")
	fmt.Println("  init                          Write a default config file")
	fmt.Println("  set-payment <api_base> <key>  Store PIX gateway credentials")
	fmt.Println("  path                          Print the config file path")
}
