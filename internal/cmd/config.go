// SPDX-FileCopyrightText: 2026 Tobias Böhm <code@aibor.de>
//
// SPDX-License-Identifier: GPL-3.0-or-later

package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aibor/bootvm/internal/boot"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "yaml"
	envPrefix  = "BOOTVM"

	// qemuBinEnv is honored in addition to BOOTVM_QEMU_BIN.
	qemuBinEnv = "QEMU_BIN"
)

// Config keys. They are also the names of the flags overriding them.
const (
	keyStateDir             = "state-dir"
	keyQemuBin              = "qemu-bin"
	keyVirtiofsd            = "virtiofsd"
	keyBwrap                = "bwrap"
	keySecureBootDir        = "secure-boot-dir"
	keyFirmware             = "firmware"
	keyCredentialChannel    = "credential-channel"
	keyInstanceType         = "instance-type"
	keyCPUs                 = "cpus"
	keyMemory               = "memory"
	keyNetwork              = "network"
	keyPull                 = "pull"
	keyBootTimeout          = "boot-timeout"
	keyGracePeriod          = "grace-period"
	keyBuggyFirmwareVendors = "buggy-firmware-vendors"
)

// Config holds the settings that may be given by config file, environment or
// flags. Flags take precedence over the environment, which takes precedence
// over the config file.
type Config struct {
	StateDir      string `mapstructure:"state-dir"`
	QemuBin       string `mapstructure:"qemu-bin"`
	Virtiofsd     string `mapstructure:"virtiofsd"`
	Bwrap         string `mapstructure:"bwrap"`
	SecureBootDir string `mapstructure:"secure-boot-dir"`

	Firmware          string `mapstructure:"firmware"`
	CredentialChannel string `mapstructure:"credential-channel"`

	InstanceType string `mapstructure:"instance-type"`
	CPUs         uint64 `mapstructure:"cpus"`
	Memory       string `mapstructure:"memory"`
	Network      string `mapstructure:"network"`
	Pull         string `mapstructure:"pull"`

	BootTimeout time.Duration `mapstructure:"boot-timeout"`
	GracePeriod time.Duration `mapstructure:"grace-period"`

	// BuggyFirmwareVendors are DMI BIOS vendors whose firmware does not
	// deliver firmware table credentials reliably. Config file only.
	BuggyFirmwareVendors []string `mapstructure:"buggy-firmware-vendors"`
}

// ConfigDir returns the user config directory of bootvm.
func ConfigDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}

	return filepath.Join(home, ".config", "bootvm"), nil
}

// DefaultStateDir returns the directory session run directories are created
// in. It is in the user's runtime directory if there is one, since it holds
// sockets.
func DefaultStateDir() (string, error) {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "bootvm"), nil
	}

	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}

	return filepath.Join(home, ".local", "state", "bootvm"), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return v
}

// loadConfig reads the config file into the given viper instance, which
// already has the flags bound, and returns the merged config.
//
// If file is empty, config.yaml in [ConfigDir] is read if it exists. An
// explicitly given file must exist.
func loadConfig(v *viper.Viper, file string) (*Config, error) {
	configDir, err := ConfigDir()
	if err != nil {
		return nil, err
	}

	stateDir, err := DefaultStateDir()
	if err != nil {
		return nil, err
	}

	err = v.BindEnv(keyQemuBin, envPrefix+"_QEMU_BIN", qemuBinEnv)
	if err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	v.SetDefault(keyStateDir, stateDir)
	v.SetDefault(keySecureBootDir, filepath.Join(configDir, "secureboot"))
	v.SetDefault(keyBootTimeout, boot.DefaultDeadline)
	v.SetDefault(keyGracePeriod, boot.DefaultGracePeriod)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(configDir)
	}

	err = v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config

	err = v.Unmarshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	for _, path := range []*string{&cfg.StateDir, &cfg.SecureBootDir, &cfg.QemuBin, &cfg.Virtiofsd, &cfg.Bwrap} {
		*path, err = homedir.Expand(*path)
		if err != nil {
			return nil, fmt.Errorf("expand path: %w", err)
		}
	}

	return &cfg, nil
}
