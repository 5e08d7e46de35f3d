package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Database persists per-room settings documents and per-language snippet
// lists. Each document is stored as a serialized JSON blob keyed by room or
// language.
type Database struct {
	db *sql.DB
}

// Settings is a room's display settings document. Unknown keys supplied by
// clients are preserved round-trip.
type Settings map[string]any

// Snippet is one reusable code fragment.
type Snippet struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

func DefaultSettings() Settings {
	return Settings{
		"theme":     "monokai",
		"font_size": 14,
		"tab_size":  4,
		"auto_save": true,
	}
}

var defaultSnippets = map[string][]Snippet{
	"python": {
		{Name: "function", Code: "def function_name(param):\n    pass\n"},
		{Name: "class", Code: "class ClassName:\n    def __init__(self):\n        pass\n"},
		{Name: "for loop", Code: "for item in items:\n    pass\n"},
		{Name: "if-else", Code: "if condition:\n    pass\nelse:\n    pass\n"},
	},
	"javascript": {
		{Name: "function", Code: "function functionName(param) {\n    \n}\n"},
		{Name: "arrow function", Code: "const functionName = (param) => {\n    \n};\n"},
		{Name: "class", Code: "class ClassName {\n    constructor() {\n        \n    }\n}\n"},
		{Name: "for loop", Code: "for (let i = 0; i < array.length; i++) {\n    \n}\n"},
	},
}

func New(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL keeps readers from blocking the write path.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS room_settings (
		room_id TEXT PRIMARY KEY,
		settings TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS snippets (
		language TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// GetSettings returns the stored document for a room, or the defaults when
// none has been saved yet.
func (d *Database) GetSettings(roomID string) (Settings, error) {
	var raw string
	err := d.db.QueryRow(
		"SELECT settings FROM room_settings WHERE room_id = ?",
		roomID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return DefaultSettings(), nil
	}
	if err != nil {
		return nil, err
	}

	var s Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("settings for room %q: %w", roomID, err)
	}
	return s, nil
}

func (d *Database) SaveSettings(roomID string, s Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`
		INSERT INTO room_settings (room_id, settings, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET
			settings = excluded.settings,
			updated_at = CURRENT_TIMESTAMP
	`, roomID, string(raw))
	return err
}

// GetSnippets returns the stored list for a language, falling back to the
// built-in sets and finally to an empty list.
func (d *Database) GetSnippets(lang string) ([]Snippet, error) {
	var raw string
	err := d.db.QueryRow(
		"SELECT data FROM snippets WHERE language = ?",
		lang,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		if defaults, ok := defaultSnippets[lang]; ok {
			return defaults, nil
		}
		return []Snippet{}, nil
	}
	if err != nil {
		return nil, err
	}

	var list []Snippet
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("snippets for %q: %w", lang, err)
	}
	return list, nil
}

func (d *Database) SaveSnippets(lang string, list []Snippet) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`
		INSERT INTO snippets (language, data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(language) DO UPDATE SET
			data = excluded.data,
			updated_at = CURRENT_TIMESTAMP
	`, lang, string(raw))
	return err
}

// Stats reports stored document counts.
func (d *Database) Stats() (map[string]int, error) {
	stats := make(map[string]int)

	var settingsCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM room_settings").Scan(&settingsCount); err != nil {
		return nil, err
	}
	stats["settings_count"] = settingsCount

	var snippetCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM snippets").Scan(&snippetCount); err != nil {
		return nil, err
	}
	stats["snippet_count"] = snippetCount

	return stats, nil
}
