// Package config loads the nodegraph configuration.
//
// Settings are read with Viper from a YAML file (config.yml or
// nodegraph.yml), then from a .env file loaded with godotenv, then from
// NODEGRAPH_-prefixed environment variables:
//
//	var cfg config.Config
//	if err := config.Load("nodegraph", &cfg); err != nil {
//		return err
//	}
//
// Load applies defaults and validates every section, so a returned Config
// is ready to use.
package config
