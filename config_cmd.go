package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/homespeak/internal/config"
)

const configHeader = `# homespeak configuration.
#
# Every setting can be overridden with a HOMESPEAK_ environment variable,
# e.g. HOMESPEAK_ELEVENLABS_API_KEY or HOMESPEAK_PLAYBACK_SINK.
# Backends without credentials are not registered.

`

var (
	printConfig bool

	configCmd = &cobra.Command{
		Use:     "config",
		Hidden:  false,
		Short:   "Edit the homespeak config file",
		Long:    paragraph(fmt.Sprintf("\n%s the homespeak config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created with the defaults.", keyword("Edit"))),
		Example: paragraph("homespeak config\nhomespeak config --config path/to/homespeak.yml\nhomespeak config --print"),
		Args:    cobra.NoArgs,
		// An invalid file must still be editable.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(*cobra.Command, []string) error {
			if err := ensureConfigFile(); err != nil {
				return err
			}
			if printConfig {
				data, err := os.ReadFile(configFile)
				if err != nil {
					return fmt.Errorf("unable to read config file: %w", err)
				}
				fmt.Print(string(data))
				return nil
			}

			c, err := editor.Cmd(config.AppName, configFile)
			if err != nil {
				return fmt.Errorf("unable to set config file: %w", err)
			}
			c.Stdin = os.Stdin
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			if err := c.Run(); err != nil {
				return fmt.Errorf("unable to run command: %w", err)
			}

			// Validate the edited file.
			check := config.DefaultConfig()
			if err := config.LoadFile(configFile, &check); err != nil {
				return err
			}
			if err := check.Validate(); err != nil {
				fmt.Println("Config file has problems:")
				fmt.Println(err)
			}

			fmt.Println("Wrote config file to:", configFile)
			return nil
		},
	}
)

// defaultConfigFile renders the default configuration with a header.
func defaultConfigFile() ([]byte, error) {
	body, err := config.Render(config.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return append([]byte(configHeader), body...), nil
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
	}
	if configFile == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return fmt.Errorf("could not find configuration directory: %w", err)
		}
		configFile = p
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		data, err := defaultConfigFile()
		if err != nil {
			return fmt.Errorf("unable to render default config: %w", err)
		}
		if err := os.WriteFile(configFile, data, 0o600); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}

func init() {
	configCmd.Flags().BoolVarP(&printConfig, "print", "p", false, "print the config file instead of editing it")
}
