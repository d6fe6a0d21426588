package config

import "time"

var defaultConfig = &Config{
	LogLevel: "info",
	DB: DB{
		DSN:     "mailpipe.db",
		Dialect: "sqlite",
	},
	Blob: Blob{
		Dir:     "blobs",
		MaxSize: 25 * 1024 * 1024,
	},
	Sync: Sync{
		Schedule:         "*/5 * * * *",
		Workers:          4,
		BatchSize:        100,
		Retries:          3,
		ThreadWindowDays: 30,
	},
	DKIM: DKIM{
		Selector: "mailpipe",
	},
	Monitoring: Monitoring{
		SentrySampleRate:     20,
		HealthchecksDuration: 5 * time.Minute,
	},
}
