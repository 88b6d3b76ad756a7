package cmd

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/playout-media/playout/internal/config"
	"github.com/playout-media/playout/pkg/bytesize"
	"github.com/playout-media/playout/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing playout configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  playout config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, /etc/playout/config.yaml, $HOME/.playout/config.yaml)
  - Environment variables (PLAYOUT_SERVER_PORT, PLAYOUT_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the PLAYOUT_ prefix and underscores for nesting.
Example: streaming.segment_duration -> PLAYOUT_STREAMING_SEGMENT_DURATION`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for
// human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		case config.ByteSize:
			result[key] = bytesize.Format(bytesize.Size(v))
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	// Load config with defaults only, no file.
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	header := strings.Join([]string{
		"# playout Configuration File",
		"# ===========================",
		"#",
		"# All values shown below are defaults.",
		"# Duration format: 30s, 5m, 1h, 30d",
		"# Size format: 512MB, 1GB",
		"#",
		"# Environment variable overrides:",
		"#   PLAYOUT_SERVER_HOST, PLAYOUT_SERVER_PORT",
		"#   PLAYOUT_DATABASE_DRIVER, PLAYOUT_DATABASE_DSN",
		"#   PLAYOUT_STORAGE_BASE_DIR, PLAYOUT_FFMPEG_BINARY_PATH",
		"#   PLAYOUT_STREAMING_POOL_CAPACITY, PLAYOUT_LOGGING_LEVEL",
		"#   etc.",
		"#",
		"",
	}, "\n")

	fmt.Println(header)
	fmt.Print(string(yamlData))

	return nil
}
