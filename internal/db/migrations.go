package db

// Migrate runs all database migrations
func (d *DB) Migrate() error {
	return d.WithLock(func() error {
		statements := []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS sessions (
				token TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS conversations (
				id TEXT PRIMARY KEY,
				owner TEXT NOT NULL,
				title TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS turns (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				conversation_id TEXT NOT NULL,
				role TEXT NOT NULL CHECK(role IN ('user', 'assistant', 'system')),
				content TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
			)`,
		}
		for _, stmt := range statements {
			if _, err := d.db.Exec(stmt); err != nil {
				return err
			}
		}

		// image_url arrived after the first schema; older files lack it
		if err := d.addColumnIfMissing("turns", "image_url", "TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}

		indexes := []string{
			"CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, created_at)",
			"CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner, updated_at)",
			"CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)",
		}
		for _, idx := range indexes {
			if _, err := d.db.Exec(idx); err != nil {
				return err
			}
		}

		return nil
	})
}

// addColumnIfMissing adds a column when PRAGMA table_info does not list it
func (d *DB) addColumnIfMissing(table, column, definition string) error {
	rows, err := d.db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return err
	}

	columnExists := false
	for rows.Next() {
		var cid int
		var name string
		var dataType string
		var notNull int
		var defaultValue any
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			rows.Close()
			return err
		}
		if name == column {
			columnExists = true
			break
		}
	}
	rows.Close()

	if columnExists {
		return nil
	}

	_, err = d.db.Exec("ALTER TABLE " + table + " ADD COLUMN " + column + " " + definition)
	return err
}
