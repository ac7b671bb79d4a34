package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openmeasure/collector/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample collector configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/collector/config.yaml. Use --config for a custom path.

Examples:
  # Initialize with default location
  collector init

  # Initialize with custom path
  collector init --config /etc/collector/config.yaml

  # Force overwrite existing config
  collector init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	if err := config.Save(config.GetDefaultConfig(), configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the server with: collector start")
	fmt.Printf("  3. Or specify custom config: collector start --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  The default configuration uses mocked authentication.")
	fmt.Println("  For production, configure auth.type oauth or jwt; a JWT secret")
	fmt.Println("  can be injected via an environment variable:")
	fmt.Println("    export COLLECTOR_AUTH_JWT_SECRET=$(openssl rand -hex 32)")

	return nil
}
