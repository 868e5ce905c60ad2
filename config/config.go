// Package config holds the viper-backed configuration of the console:
// server endpoint, credentials and stream preferences. Values come from the
// config file, environment variables and built-in defaults, in that order of
// precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = viper.New()

	// Defaults
	v.SetDefault("server.url", "http://localhost:29888")
	v.SetDefault("auth.token", "")
	v.SetDefault("console.home", filepath.Join(xdg.Home, ".sc-console"))
	v.SetDefault("quality.auto", true)
	v.SetDefault("quality.tier", "high")
	v.SetDefault("decoder.backend", "auto")

	// Environment variables
	v.AutomaticEnv()
	v.BindEnv("server.url", "SC_SERVER_URL")
	v.BindEnv("auth.token", "SC_AUTH_TOKEN")
	v.BindEnv("console.home", "SC_CONSOLE_HOME")
	v.BindEnv("quality.tier", "SC_QUALITY_TIER")
	v.BindEnv("decoder.backend", "SC_DECODER_BACKEND")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths := []string{
		".",
		"$HOME/.sc-console",
		"/etc/sc-console",
	}
	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
		// Config file not found; use defaults.
	}
}

// GetServerURL returns the session server URL.
func GetServerURL() string {
	return v.GetString("server.url")
}

// GetAuthToken returns the bearer token sent on the connection handshake.
func GetAuthToken() string {
	return v.GetString("auth.token")
}

// GetConsoleHome returns the console home directory.
func GetConsoleHome() string {
	return v.GetString("console.home")
}

// GetQualityAuto reports whether adaptive quality is enabled by default.
func GetQualityAuto() bool {
	return v.GetBool("quality.auto")
}

// GetQualityTier returns the configured quality tier name.
func GetQualityTier() string {
	return v.GetString("quality.tier")
}

// GetDecoderBackend returns the configured decode backend name.
func GetDecoderBackend() string {
	return v.GetString("decoder.backend")
}
