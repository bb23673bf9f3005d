// Package config provides configuration loading, merging, and path management
// for the yabot daemon.
//
// # Configuration Loading
//
// Load merges configuration from several sources in priority order:
//
//  1. Built-in defaults (127.0.0.1:8765, gpt-4o-mini, 50 steps, 30 turns)
//  2. Global config (~/.config/yabot/yabot.json or yabot.jsonc)
//  3. Project config (yabot.json[c] or .yabot/yabot.json[c] in the directory)
//  4. The file named by YABOT_CONFIG
//  5. .env files, loaded with joho/godotenv without overriding the environment
//  6. Environment variables (OPENAI_API_KEY, ALLOWED_USERS, YABOT_* ...)
//
// Files may contain comments (tidwall/jsonc) and the placeholders
// {env:VAR_NAME} and {file:path}.
//
// # Paths
//
// GetPaths follows the XDG base directory layout under the application name.
// The trace file defaults to <log dir>/trace.jsonl and can be moved with
// YABOT_TRACE_PATH.
package config
