// Package config defines configuration for the fetchdata CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (FETCHDATA_ prefix)
//   - A JSON or YAML configuration file (config.json by default)
//
// Flags override the environment, which overrides the file.
//
// # File format
//
//	{
//	  "base_url": "https://www.givenergy.cloud/internal/export",
//	  "headers": {"User-Agent": "Mozilla/5.0"},
//	  "cookies": {"session": "..."},
//	  "data_dir": "data",
//	  "workers": 5,
//	  "max_attempts": 3,
//	  "timeout": "30s",
//	  "retry": {"backoff": "0s", "max_backoff": "30s"},
//	  "max_response_size": "64MiB",
//	  "log": {"file": "data_fetch.log", "level": "info", "format": "text"},
//	  "journal": "state/fetch.duckdb"
//	}
//
// base_url, headers and cookies are required. Every failure to read or
// validate the configuration is an *Error matching ErrInvalid.
package config
