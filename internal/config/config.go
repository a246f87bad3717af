package config

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const DefaultConfigFileName = "fnscheduler-conf"

const envPrefix = "FNSCHED"

func GetInt(key string, defaultValue int) int {
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	return defaultValue
}

func GetFloat(key string, defaultValue float64) float64 {
	if viper.IsSet(key) {
		return viper.GetFloat64(key)
	}
	return defaultValue
}

func GetString(key string, defaultValue string) string {
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return defaultValue
}

func GetBool(key string, defaultValue bool) bool {
	if viper.IsSet(key) {
		return viper.GetBool(key)
	}
	return defaultValue
}

// GetMillis reads an integer number of milliseconds.
func GetMillis(key string, defaultValue time.Duration) time.Duration {
	if viper.IsSet(key) {
		return time.Duration(viper.GetInt64(key)) * time.Millisecond
	}
	return defaultValue
}

// Set overrides a configuration value (used mostly by tests).
func Set(key string, value interface{}) {
	viper.Set(key, value)
}

// ReadConfiguration loads the configuration. If fileName is empty, the
// default file name is searched in a few well-known directories.
func ReadConfiguration(fileName string) {
	if fileName != "" {
		viper.SetConfigFile(fileName)
	} else {
		viper.SetConfigName(DefaultConfigFileName)
		viper.AddConfigPath("/etc/fnscheduler/")
		viper.AddConfigPath("$HOME/")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logrus.Info("Default config file not found; using defaults")
		} else {
			logrus.WithError(err).Warn("Could not read the configuration file")
		}
	}

	if lvl, err := logrus.ParseLevel(GetString(LOG_LEVEL, "info")); err == nil {
		logrus.SetLevel(lvl)
	}
}
