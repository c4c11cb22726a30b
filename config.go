package mrp

import (
	"github.com/spf13/viper"
)

func loadConfig() {
	viper.SetConfigName("mrprc")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.mrp")

	setupDefaults()

	viper.ReadInConfig()

	viper.SetEnvPrefix("mrp")
	viper.AutomaticEnv()
	viper.BindEnv("sandbox_api_key", "DAYTONA_API_KEY")

	loadDotEnv()
}

func setupDefaults() {
	defaultSettings := map[string]interface{}{
		"artifact_location": ".mrp/artifacts",
		"ops_location":      ".mrp/ops_pkg",
		"output_location":   ".mrp/outputs",
		"backend":           string(LocalBackend),
		"max_workers":       0, // Zero means one worker per map task
		"cache_size":        256,
		"interpreter":       []string{"python3"},
		"sandbox_api_url":   "https://app.daytona.io/api",
		"sandbox_api_key":   "",
		"progress":          false,
		"verbose":           false,
	}
	for key, value := range defaultSettings {
		viper.SetDefault(key, value)
	}

	aliases := map[string]string{
		"verbose":         "v",
		"output_location": "o",
	}
	for key, alias := range aliases {
		viper.RegisterAlias(alias, key)
	}
}

// loadDotEnv picks up the sandbox credential from a .env file in the working
// directory. Real environment variables take precedence.
func loadDotEnv() {
	env := viper.New()
	env.SetConfigFile(".env")
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return
	}
	for _, key := range []string{"mrp_sandbox_api_key", "daytona_api_key"} {
		if value := env.GetString(key); value != "" {
			viper.SetDefault("sandbox_api_key", value)
			return
		}
	}
}
