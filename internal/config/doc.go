// Package config provides configuration management for the synthflow
// server.
//
// Configuration is loaded from environment variables using the env package.
// All configuration values have sensible defaults for development use: every
// store is in memory and no external service is needed.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
