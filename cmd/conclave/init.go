// ABOUTME: Interactive setup: writes a starter bootstrap config and policy file
// ABOUTME: Prompts for homeserver, domain, accounts, and gateway settings

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
)

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	reader := bufio.NewReader(os.Stdin)

	prompt := func(label, def string) string {
		green.Print("    ▶ ")
		if def != "" {
			fmt.Printf("%s [%s]: ", label, def)
		} else {
			fmt.Printf("%s: ", label)
		}
		value, _ := reader.ReadString('\n')
		value = strings.TrimSpace(value)
		if value == "" {
			return def
		}
		return value
	}

	homeserver := prompt("Matrix homeserver URL", "https://matrix.org")
	domain := prompt("Deployment domain (server name)", "")
	routerName := prompt("Router agent short name", "router")
	routerUser := prompt("Router agent user id (e.g. @router:"+domain+")", "")
	routerToken := prompt("Router agent access token", "")
	recoveryKey := prompt("Recovery key (optional, for E2EE)", "")
	gatewayURL := prompt("Agent gateway URL", "http://localhost:8080")
	decisionURL := prompt("Decision service URL", "https://api.openai.com/v1")
	decisionModel := prompt("Decision model", "gpt-4o-mini")

	configDir := filepath.Dir(configPath)
	policyPath := filepath.Join(configDir, "policy.yaml")

	cfg := fmt.Sprintf(`# conclave configuration
# Generated by conclave init

[matrix]
homeserver = "%s"
domain = "%s"
`, homeserver, domain)

	if recoveryKey != "" {
		cfg += fmt.Sprintf("recovery_key = \"%s\"\n", recoveryKey)
	}

	cfg += fmt.Sprintf(`
[[matrix.accounts]]
name = "%s"
user_id = "%s"
access_token = "%s"

[gateway]
url = "%s"

[decision]
url = "%s"
api_key = "${OPENAI_API_KEY}"
model = "%s"
timeout = "10s"

[policy]
path = "%s"

[logging]
level = "info"
`, routerName, routerUser, routerToken, gatewayURL, decisionURL, decisionModel, policyPath)

	policy := fmt.Sprintf(`# conclave policy
# Hot-reloaded on save; a failed parse keeps the previous policy active.

default_access: true

router:
  name: %s
  user_id: %s

agents: []
  # - name: finance
  #   user_id: "@finance:%s"

default_agent: ""

teams: []
  # - name: research
  #   user_id: "@research:%s"
  #   members: [finance]
  #   default_mode: collaborate

rooms: []
  # - id: "!abc123:%s"
  #   key: general
  #   alias: "#general:%s"

aliases: {}
reply_permissions: {}
timezone: UTC
`, routerName, routerUser, domain, domain, domain, domain)

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(cfg), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if _, err := os.Stat(policyPath); os.IsNotExist(err) {
		if err := os.WriteFile(policyPath, []byte(policy), 0600); err != nil {
			return fmt.Errorf("writing policy file: %w", err)
		}
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	green.Printf("    ✓ Policy written to %s\n", policyPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Add agent accounts to the config and policy files")
	fmt.Println("    2. Run: conclave")
	fmt.Println()

	return nil
}
