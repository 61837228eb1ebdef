package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CrispStrobe/filen-cli-go/internal/cliutil"
	"github.com/CrispStrobe/filen-cli-go/internal/config"
	"github.com/CrispStrobe/filen-cli-go/internal/ferrors"
)

// configCmd's children read and patch config.yaml directly through
// yaml.v3 rather than through the Viper loader: Viper is built for
// layered reads with hot-reload (internal/config.Loader), not for
// rewriting a single key while leaving the rest of the file untouched.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or change persisted CLI settings",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := configDirOrDefault()
		if err != nil {
			return wrapErr(err)
		}
		loader, err := config.NewLoader(dir)
		if err != nil {
			return wrapErr(err)
		}
		settings, err := loader.Settings()
		if err != nil {
			return wrapErr(err)
		}
		fmt.Printf("concurrency: %d\n", settings.Concurrency)
		fmt.Printf("conflict_policy: %s\n", settings.ConflictPolicy)
		fmt.Printf("preserve_timestamp: %t\n", settings.PreserveTimestamp)
		fmt.Printf("backend_base_url: %s\n", settings.BackendBaseURL)
		fmt.Printf("log_level: %s\n", settings.LogLevel)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a single setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := configDirOrDefault()
		if err != nil {
			return wrapErr(err)
		}
		loader, err := config.NewLoader(dir)
		if err != nil {
			return wrapErr(err)
		}
		settings, err := loader.Settings()
		if err != nil {
			return wrapErr(err)
		}
		v, err := settingField(settings, args[0])
		if err != nil {
			return usageErr("%v", err)
		}
		fmt.Println(v)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a single setting to config.yaml",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := configDirOrDefault()
		if err != nil {
			return wrapErr(err)
		}
		if err := validateSettingKey(args[0]); err != nil {
			return usageErr("%v", err)
		}
		if err := setConfigYAML(dir, args[0], args[1]); err != nil {
			return wrapErr(err)
		}
		cliutil.Success("%s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd)
}

var settingKeys = map[string]bool{
	"concurrency":        true,
	"conflict_policy":    true,
	"preserve_timestamp": true,
	"backend_base_url":   true,
	"log_level":          true,
}

func validateSettingKey(key string) error {
	if !settingKeys[key] {
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

func settingField(s config.Settings, key string) (string, error) {
	switch key {
	case "concurrency":
		return strconv.Itoa(s.Concurrency), nil
	case "conflict_policy":
		return s.ConflictPolicy, nil
	case "preserve_timestamp":
		return strconv.FormatBool(s.PreserveTimestamp), nil
	case "backend_base_url":
		return s.BackendBaseURL, nil
	case "log_level":
		return s.LogLevel, nil
	default:
		return "", fmt.Errorf("unknown setting %q", key)
	}
}

// setConfigYAML reads config.yaml (if present), sets key to a
// type-coerced value, and rewrites the file. Booleans and integers are
// written as their native YAML scalar so the Viper loader on the next
// read decodes them without a string-to-type conversion.
func setConfigYAML(dir, key, value string) error {
	path := filepath.Join(dir, "config.yaml")
	doc := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return ferrors.New(ferrors.Fatal, "main.setConfigYAML", err)
		}
	} else if !os.IsNotExist(err) {
		return ferrors.New(ferrors.IO, "main.setConfigYAML", err)
	}

	switch key {
	case "concurrency":
		n, err := strconv.Atoi(value)
		if err != nil {
			return ferrors.New(ferrors.InvalidPath, "main.setConfigYAML", err)
		}
		doc[key] = n
	case "preserve_timestamp":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return ferrors.New(ferrors.InvalidPath, "main.setConfigYAML", err)
		}
		doc[key] = b
	default:
		doc[key] = value
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return ferrors.New(ferrors.Fatal, "main.setConfigYAML", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ferrors.New(ferrors.IO, "main.setConfigYAML", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return ferrors.New(ferrors.IO, "main.setConfigYAML", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return ferrors.New(ferrors.IO, "main.setConfigYAML", err)
	}
	return nil
}
