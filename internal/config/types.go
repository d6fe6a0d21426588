package config

import "time"

// Config of mailpipe
type Config struct {
	// LogLevel is a zerolog level name
	LogLevel string

	// Accounts to ingest
	Accounts []IMAPAccount

	// DB config
	DB DB

	// Blob storage config
	Blob Blob

	// Sync config
	Sync Sync

	// DKIM config for outgoing drafts
	DKIM DKIM

	// Monitoring config
	Monitoring Monitoring
}

// IMAPAccount is one mailbox to ingest
type IMAPAccount struct {
	ID       string
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool
	Folder   string
}

// DB config
type DB struct {
	// DSN is a database connection string
	DSN string
	// Dialect of database, one of sqlite, postgres
	Dialect string
}

// Blob config
type Blob struct {
	// Dir is the filesystem root for attachment payloads
	Dir string
	// MaxSize of a stored attachment in bytes; larger parts become stubs
	MaxSize int
}

// Sync config
type Sync struct {
	// Schedule is a cron expression for periodic passes
	Schedule string
	// Workers bounds concurrent account passes
	Workers int
	// BatchSize caps messages fetched per account per pass
	BatchSize int
	// Retries bounds transient fetch retries
	Retries int
	// ThreadWindowDays bounds the subject-heuristic lookback
	ThreadWindowDays int
}

// DKIM config
type DKIM struct {
	Selector string
	PrivKey  string
}

// Monitoring config
type Monitoring struct {
	SentryDSN            string
	SentrySampleRate     int
	HealthchecksUUID     string
	HealthchecksDuration time.Duration
}
