// Package config reads qrun.toml and produces a validated Config.
//
// Lookup order is an explicit --config path, then
// ~/.config/qrun/config.toml, then ./qrun.toml; with none present the
// built-in defaults apply. QRUN_SOCKET overrides paths.socket after the file
// is decoded, and every path has ~ expanded before validation.
package config
