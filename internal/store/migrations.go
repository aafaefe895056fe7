package store

type migration struct {
	name string
	ddl  string
}

// migrations are applied in order; migration i brings the schema to
// user_version i+1. Append only.
var migrations = []migration{
	{
		name: "conversations and messages",
		ddl: `
			CREATE TABLE conversations (
				id          TEXT PRIMARY KEY,
				created_at  TEXT NOT NULL
			);

			CREATE TABLE messages (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				conversation_id  TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				role             TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
				content          TEXT NOT NULL,
				timestamp        TEXT NOT NULL
			);

			CREATE INDEX idx_messages_conversation ON messages (conversation_id, id);
		`,
	},
}
