// Package config provides configuration loading and validation for the
// live transcription client. YAML files are read over built-in defaults,
// then .env files and LIVESCRIBE_* environment variables override them.
package config
