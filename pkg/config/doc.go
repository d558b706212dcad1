// Package config loads typed configuration structs from the process environment.
//
// Struct fields are described with `env` / `envDefault` tags understood by
// github.com/caarlos0/env/v11. A `.env` file in the working directory is read
// once (github.com/joho/godotenv) before the first struct is parsed, so local
// development does not need exported variables.
//
// Each configuration type is parsed at most once per process and cached:
//
//	type PolicyConfig struct {
//		TrialTokenLimit uint64 `env:"TRIAL_TOKEN_LIMIT" envDefault:"10000"`
//	}
//
//	var cfg PolicyConfig
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// Use MustLoad for settings without which the binary cannot start, and Reset in
// tests that need to re-read a mutated environment.
package config
