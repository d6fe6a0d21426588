package storage

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id               TEXT PRIMARY KEY,
	account_id       TEXT NOT NULL,
	external_id      TEXT NOT NULL,
	subject          TEXT NOT NULL DEFAULT '',
	from_addr        TEXT NOT NULL DEFAULT '',
	to_addrs         TEXT NOT NULL DEFAULT '[]',
	cc_addrs         TEXT NOT NULL DEFAULT '[]',
	bcc_addrs        TEXT NOT NULL DEFAULT '[]',
	sent_at          TIMESTAMP NOT NULL,
	received_at      TIMESTAMP NOT NULL,
	body_text        TEXT NOT NULL DEFAULT '',
	body_html        TEXT NOT NULL DEFAULT '',
	attachments      TEXT NOT NULL DEFAULT '[]',
	inline_images    TEXT NOT NULL DEFAULT '[]',
	message_id       TEXT NOT NULL DEFAULT '',
	in_reply_to      TEXT NOT NULL DEFAULT '',
	refs             TEXT NOT NULL DEFAULT '[]',
	importance       TEXT NOT NULL DEFAULT '',
	signed           INTEGER NOT NULL DEFAULT 0,
	encrypted        INTEGER NOT NULL DEFAULT 0,
	degraded         INTEGER NOT NULL DEFAULT 0,
	thread_id        TEXT NOT NULL DEFAULT '',
	thread_confidence TEXT NOT NULL DEFAULT '',
	thread_method    TEXT NOT NULL DEFAULT '',
	subject_key      TEXT NOT NULL DEFAULT '',
	participants     TEXT NOT NULL DEFAULT '[]',
	new_text         TEXT NOT NULL DEFAULT '',
	new_markup       TEXT NOT NULL DEFAULT '',
	quoted_text      TEXT NOT NULL DEFAULT '',
	signature        TEXT NOT NULL DEFAULT '',
	disclaimer       TEXT NOT NULL DEFAULT '',
	reply_style      TEXT NOT NULL DEFAULT 'unknown',
	business_id      TEXT NOT NULL DEFAULT '',
	contact_id       TEXT NOT NULL DEFAULT '',
	assoc_confidence TEXT NOT NULL DEFAULT 'none',
	assoc_manual     INTEGER NOT NULL DEFAULT 0,
	read             INTEGER NOT NULL DEFAULT 0,
	starred          INTEGER NOT NULL DEFAULT 0,
	deleted          INTEGER NOT NULL DEFAULT 0,
	UNIQUE (account_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(account_id, thread_id);
CREATE INDEX IF NOT EXISTS idx_messages_message_id ON messages(account_id, message_id);
CREATE INDEX IF NOT EXISTS idx_messages_subject_key ON messages(account_id, subject_key, sent_at);
CREATE INDEX IF NOT EXISTS idx_messages_business ON messages(account_id, business_id, sent_at);

CREATE TABLE IF NOT EXISTS businesses (
	id             TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL,
	name           TEXT NOT NULL DEFAULT '',
	domain         TEXT NOT NULL DEFAULT '',
	last_active_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_businesses_domain ON businesses(account_id, domain);

CREATE TABLE IF NOT EXISTS business_emails (
	business_id TEXT NOT NULL,
	address     TEXT NOT NULL,
	UNIQUE (business_id, address)
);

CREATE INDEX IF NOT EXISTS idx_business_emails_address ON business_emails(address);

CREATE TABLE IF NOT EXISTS contacts (
	id             TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL,
	business_id    TEXT NOT NULL DEFAULT '',
	name           TEXT NOT NULL DEFAULT '',
	last_active_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS contact_emails (
	contact_id TEXT NOT NULL,
	address    TEXT NOT NULL,
	UNIQUE (contact_id, address)
);

CREATE INDEX IF NOT EXISTS idx_contact_emails_address ON contact_emails(address);

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL,
	kind        TEXT NOT NULL,
	business_id TEXT NOT NULL DEFAULT '',
	contact_id  TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	preview     TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_business ON events(account_id, business_id, occurred_at);

CREATE TABLE IF NOT EXISTS sync_state (
	account_id TEXT PRIMARY KEY,
	cursor     TEXT NOT NULL DEFAULT '',
	synced_at  TIMESTAMP NOT NULL
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
