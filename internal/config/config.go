package config

import (
	"time"

	"github.com/etkecc/go-env"
)

const prefix = "mailpipe"

// New config. Account connection details are read per account id from the
// "accounts" list: mailpipe_imap_<id>_host, mailpipe_imap_<id>_username, etc.
func New() *Config {
	env.SetPrefix(prefix)
	cfg := &Config{
		LogLevel: env.String("loglevel", defaultConfig.LogLevel),
		Accounts: accounts(),
		DB: DB{
			DSN:     env.String("db.dsn", defaultConfig.DB.DSN),
			Dialect: env.String("db.dialect", defaultConfig.DB.Dialect),
		},
		Blob: Blob{
			Dir:     env.String("blob.dir", defaultConfig.Blob.Dir),
			MaxSize: env.Int("blob.maxsize", defaultConfig.Blob.MaxSize),
		},
		Sync: Sync{
			Schedule:         env.String("sync.schedule", defaultConfig.Sync.Schedule),
			Workers:          env.Int("sync.workers", defaultConfig.Sync.Workers),
			BatchSize:        env.Int("sync.batchsize", defaultConfig.Sync.BatchSize),
			Retries:          env.Int("sync.retries", defaultConfig.Sync.Retries),
			ThreadWindowDays: env.Int("sync.threadwindow", defaultConfig.Sync.ThreadWindowDays),
		},
		DKIM: DKIM{
			Selector: env.String("dkim.selector", defaultConfig.DKIM.Selector),
			PrivKey:  env.String("dkim.privkey"),
		},
		Monitoring: Monitoring{
			SentryDSN:            env.String("monitoring.sentry.dsn"),
			SentrySampleRate:     env.Int("monitoring.sentry.rate", defaultConfig.Monitoring.SentrySampleRate),
			HealthchecksUUID:     env.String("monitoring.healthchecks.uuid"),
			HealthchecksDuration: healthchecksDuration(),
		},
	}

	return cfg
}

func accounts() []IMAPAccount {
	ids := env.Slice("accounts")
	accounts := make([]IMAPAccount, 0, len(ids))
	for _, id := range ids {
		accounts = append(accounts, IMAPAccount{
			ID:       id,
			Host:     env.String("imap." + id + ".host"),
			Port:     env.String("imap."+id+".port", "993"),
			Username: env.String("imap." + id + ".username"),
			Password: env.String("imap." + id + ".password"),
			TLS:      !env.Bool("imap." + id + ".notls"),
			Folder:   env.String("imap."+id+".folder", "INBOX"),
		})
	}
	return accounts
}

func healthchecksDuration() time.Duration {
	seconds := env.Int("monitoring.healthchecks.duration", int(defaultConfig.Monitoring.HealthchecksDuration.Seconds()))
	return time.Duration(seconds) * time.Second
}
