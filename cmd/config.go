package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/tfreview/internal/llm"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tfreview"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage tfreview configuration.

Running bare 'tfreview config' is the same as 'tfreview config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# tfreview configuration
# See: tfreview config show (for effective values and sources)

# State/data directory (default: ~/.config/tfreview)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/tfreview/tfreview.db)
# db_path: {{ .DBPath }}

log:
  # debug, info, warn or error
  level: "{{ .LogLevel }}"
  # text or json
  format: "{{ .LogFormat }}"

server:
  # Listen address for 'tfreview serve'
  addr: "{{ .ServerAddr }}"

review:
  # Reviews processed at once by the server
  max_concurrent: {{ .MaxConcurrent }}
  # Upper bound on one review, model calls included
  process_timeout: "{{ .ProcessTimeout }}"
  # Pending/in_progress reviews older than this are reported as stuck
  stuck_after: "{{ .StuckAfter }}"

# Retries per model before falling back to the next one
fallback:
  max_attempts: {{ .FallbackAttempts }}
  base_delay: "{{ .FallbackBaseDelay }}"
  max_delay: "{{ .FallbackMaxDelay }}"

# Models are tried in order. API keys come from the environment
# (ANTHROPIC_API_KEY, OPENAI_API_KEY, or api_key_env per model).
models:
{{- range .Models }}
  - name: "{{ .Name }}"
    provider: "{{ .Provider }}"
    model: "{{ .Model }}"
    base_confidence: {{ .BaseConfidence }}
    max_output_tokens: {{ .MaxOutputTokens }}
    temperature: {{ .Temp }}
{{- if .BaseURL }}
    base_url: "{{ .BaseURL }}"
{{- end }}
{{- end }}
`

type configTemplateData struct {
	StateDir          string
	DBPath            string
	LogLevel          string
	LogFormat         string
	ServerAddr        string
	MaxConcurrent     int
	ProcessTimeout    string
	StuckAfter        string
	FallbackAttempts  int
	FallbackBaseDelay string
	FallbackMaxDelay  string
	Models            []llm.ModelSpec
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	models, err := loadModels()
	if err != nil {
		return err
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:          viper.GetString("state_dir"),
		DBPath:            viper.GetString("db_path"),
		LogLevel:          viper.GetString("log.level"),
		LogFormat:         viper.GetString("log.format"),
		ServerAddr:        viper.GetString("server.addr"),
		MaxConcurrent:     viper.GetInt("review.max_concurrent"),
		ProcessTimeout:    viper.GetDuration("review.process_timeout").String(),
		StuckAfter:        viper.GetDuration("review.stuck_after").String(),
		FallbackAttempts:  viper.GetInt("fallback.max_attempts"),
		FallbackBaseDelay: viper.GetDuration("fallback.base_delay").String(),
		FallbackMaxDelay:  viper.GetDuration("fallback.max_delay").String(),
		Models:            models,
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "TFREVIEW_STATE_DIR"},
	{Key: "db_path", EnvVar: "TFREVIEW_DB_PATH"},
	{Key: "log.level", EnvVar: "TFREVIEW_LOG_LEVEL"},
	{Key: "log.format", EnvVar: "TFREVIEW_LOG_FORMAT"},
	{Key: "server.addr", EnvVar: "TFREVIEW_SERVER_ADDR"},
	{Key: "review.max_concurrent", EnvVar: "TFREVIEW_REVIEW_MAX_CONCURRENT"},
	{Key: "review.process_timeout", EnvVar: "TFREVIEW_REVIEW_PROCESS_TIMEOUT"},
	{Key: "review.stuck_after", EnvVar: "TFREVIEW_REVIEW_STUCK_AFTER"},
	{Key: "fallback.max_attempts", EnvVar: "TFREVIEW_FALLBACK_MAX_ATTEMPTS"},
	{Key: "fallback.base_delay", EnvVar: "TFREVIEW_FALLBACK_BASE_DELAY"},
	{Key: "fallback.max_delay", EnvVar: "TFREVIEW_FALLBACK_MAX_DELAY"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-26s %v  %s\n", k.Key, val, source)
	}

	models, err := loadModels()
	if err != nil {
		return err
	}
	source := "(default)"
	if fileValues["models"] {
		source = "(file)"
	}
	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "  models %s\n", source)
	for i, m := range models {
		fmt.Fprintf(ui.Out, "    %d. %-16s %s/%s  confidence %.2f\n", i+1, m.Name, m.Provider, m.Model, m.BaseConfidence)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'tfreview config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
