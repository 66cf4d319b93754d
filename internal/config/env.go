package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// envFileCandidates lists the .env files Load reads, nearest first. A key
// set by an earlier file (or by the real environment) wins.
func envFileCandidates(dataDir string) []string {
	paths := []string{".env"}
	if dataDir != "" {
		paths = append(paths, filepath.Join(dataDir, ".env"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "medtrack", ".env"))
	}
	return paths
}

// LoadEnvFiles copies KEY=value pairs from the .env files next to the
// working directory, inside dataDir and in ~/.config/medtrack into the
// process environment. Variables that are already set are left alone.
func LoadEnvFiles(dataDir string) error {
	for _, path := range envFileCandidates(dataDir) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := loadEnvFile(path); err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	return nil
}

func loadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := parseEnvLine(scanner.Text())
		if !ok || os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// parseEnvLine accepts `KEY=value`, `export KEY=value` and quoted values.
// Blank lines and # comments are skipped.
func parseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}

	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		if q := value[0]; (q == '"' || q == '\'') && value[len(value)-1] == q {
			value = value[1 : len(value)-1]
		}
	}
	return key, value, true
}

func GetEnvDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// Shorter names people already export for the chat bots.
var envAliases = map[string][]string{
	"MEDTRACK_NOTIFICATIONS_TELEGRAM_BOT_TOKEN": {"TELEGRAM_BOT_TOKEN"},
	"MEDTRACK_NOTIFICATIONS_DISCORD_TOKEN":      {"DISCORD_BOT_TOKEN", "DISCORD_TOKEN"},
	"MEDTRACK_STORAGE_DATA_DIR":                 {"MEDTRACK_DATA"},
}

func ResolveEnvWithAliases(canonicalKey string) string {
	if val := os.Getenv(canonicalKey); val != "" {
		return val
	}
	for _, alias := range envAliases[canonicalKey] {
		if val := os.Getenv(alias); val != "" {
			return val
		}
	}
	return ""
}

// envKey maps a config setting such as notifications.discord.token to the
// variable that overrides it.
func envKey(setting string) string {
	return "MEDTRACK_" + strings.ToUpper(strings.ReplaceAll(setting, ".", "_"))
}

// MissingSecretError reports a sink that is enabled without its credential.
type MissingSecretError struct {
	Setting string
	Sink    string
}

func (e *MissingSecretError) Error() string {
	msg := fmt.Sprintf("%s is required when %s is enabled (set it in the config file or %s", e.Setting, e.Sink, envKey(e.Setting))
	if aliases := envAliases[envKey(e.Setting)]; len(aliases) > 0 {
		msg += " / " + strings.Join(aliases, " / ")
	}
	return msg + ")"
}

func requireSecret(sink, setting, value string) error {
	if value == "" {
		return &MissingSecretError{Setting: setting, Sink: sink}
	}
	return nil
}
