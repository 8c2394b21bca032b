// Package config provides configuration loading, merging, and path
// management for opal-agent.
//
// # Configuration Loading
//
// Load implements a layered loading strategy, lowest to highest
// precedence:
//
//  1. Global config (GetPaths().Config, e.g. ~/.config/opal/)
//  2. Project configs discovered by walking up from the working directory
//     to the nearest .git root (each ancestor's .opal/ directory)
//  3. OPAL_CONFIG file
//  4. OPAL_CONFIG_CONTENT inline document
//  5. Environment variables
//
// # Supported Formats
//
// YAML is the primary format (opal.yaml / opal.yml), decoded with
// gopkg.in/yaml.v3. JSON and JSONC are also accepted (opal.json /
// opal.jsonc); JSONC comments are stripped with github.com/tidwall/jsonc
// before the result is handed to the same YAML decoder, since JSON is a
// YAML subset.
//
// # Variable Interpolation
//
// Configuration files support two placeholder forms, expanded before
// parsing:
//   - {env:VAR_NAME} - environment variable value (empty if unset)
//   - {file:path} - file contents; absolute, relative (to the config's
//     directory), and ~/-prefixed paths are all supported; a missing file
//     leaves the placeholder untouched
//
// # Configuration Merging
//
// Each successive source is merged over the running config: scalars and
// pointers overwrite when set, maps merge key by key, and slices replace
// wholesale. The last-loaded source wins on conflict.
//
// # Path Management
//
// Paths follows the XDG Base Directory Specification:
//   - Data: ~/.local/share/opal (XDG_DATA_HOME)
//   - Config: ~/.config/opal (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/opal (XDG_CACHE_HOME)
//   - State: ~/.local/state/opal (XDG_STATE_HOME)
//
// On Windows these fall back to APPDATA.
//
// # Environment Variable Overrides
//
//   - OPAL_MODEL - overrides the default model
//   - OPAL_SMALL_MODEL - overrides the small/cheap model
//   - OPAL_SESSIONS_DIR - overrides the session-snapshot directory
//   - OPAL_DEBUG - forces the debug feature toggle on
//   - OPAL_CONFIG - path to an explicit override file
//   - OPAL_CONFIG_CONTENT - inline configuration document
//
// .env files in the working directory are loaded with
// github.com/joho/godotenv before these variables are read, so a project
// can pin provider keys without exporting them into the shell.
//
// # Hot Reload
//
// Watch starts an github.com/fsnotify/fsnotify watcher over every source
// directory Load would have consulted and invokes a callback with a
// freshly reloaded Config on each write, letting the Session Supervisor
// pick up feature-toggle and permission edits without a restart.
//
// # Project Structure Discovery
//
// The loader walks up from the starting directory collecting each
// ancestor's .opal/ directory, stopping at (and including) a directory
// containing a .git folder, or the filesystem root if none is found.
package config
