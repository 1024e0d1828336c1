package core

import "fmt"

// CurrentConfigVersion is the latest config schema version.
const CurrentConfigVersion = 2

// Migration defines a single migration step of a versioned YAML document.
type Migration struct {
	FromVersion int
	Migrate     func(raw map[string]any) error
}

// configMigrations is the ordered list of all migrations.
// Each migration transforms raw YAML map from FromVersion to FromVersion+1.
var configMigrations = []Migration{
	{FromVersion: 0, Migrate: migrateV0toV1},
	{FromVersion: 1, Migrate: migrateV1toV2},
}

// MigrateConfig applies all pending migrations to a raw YAML config map.
// Returns the final version number and whether any migration was applied.
func MigrateConfig(raw map[string]any) (version int, migrated bool, err error) {
	return RunMigrations(raw, configMigrations)
}

// RunMigrations applies migrations in order starting at raw["version"].
// Shared by the app config and the YAML tunnel store.
func RunMigrations(raw map[string]any, migrations []Migration) (version int, migrated bool, err error) {
	// Extract current version (0 if missing: pre-versioned document).
	switch v := raw["version"].(type) {
	case int:
		version = v
	case float64:
		version = int(v)
	default:
		version = 0
	}

	startVersion := version
	for _, m := range migrations {
		if m.FromVersion == version {
			if err := m.Migrate(raw); err != nil {
				return version, version != startVersion,
					fmt.Errorf("migration v%d→v%d failed: %w", m.FromVersion, m.FromVersion+1, err)
			}
			version++
			raw["version"] = version
		}
	}
	return version, version != startVersion, nil
}

// migrateV0toV1 renames the flat "listen" key into api.listen.
func migrateV0toV1(raw map[string]any) error {
	listen, ok := raw["listen"]
	if !ok {
		return nil
	}
	api, _ := raw["api"].(map[string]any)
	if api == nil {
		api = map[string]any{}
	}
	if _, exists := api["listen"]; !exists {
		api["listen"] = listen
	}
	raw["api"] = api
	delete(raw, "listen")
	return nil
}

// migrateV1toV2 moves recents.* (v1 name) to defaults.*.
func migrateV1toV2(raw map[string]any) error {
	recentsRaw, ok := raw["recents"]
	if !ok {
		return nil
	}
	recents, ok := recentsRaw.(map[string]any)
	if !ok {
		delete(raw, "recents")
		return nil
	}
	if _, exists := raw["defaults"]; !exists {
		raw["defaults"] = recents
	}
	delete(raw, "recents")
	return nil
}
