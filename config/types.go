package config

type AppConfig struct {
	DBPath     string          `yaml:"db_path" env:"PATROL_DB_PATH" env-default:"data/patrol.db"`
	ListenAddr string          `yaml:"listen_addr" env:"PATROL_LISTEN_ADDR" env-default:"0.0.0.0:8090"`
	AppEnv     string          `yaml:"app_env" env:"PATROL_APP_ENV"`
	Feed       FeedConfig      `yaml:"feed"`
	Incidents  IncidentsConfig `yaml:"incidents"`
	Sync       SyncConfig      `yaml:"sync"`
	Retention  RetentionConfig `yaml:"retention"`
}

type FeedConfig struct {
	URL             string `yaml:"url" env:"PATROL_FEED_URL" env-default:"http://localhost:9000/incidents.json"`
	IntervalSeconds int    `yaml:"interval_seconds" env:"PATROL_FEED_INTERVAL_SECONDS" env-default:"2"`
	TimeoutSeconds  int    `yaml:"timeout_sec" env:"PATROL_FEED_TIMEOUT" env-default:"10"`
	WorkingSetLimit int    `yaml:"working_set_limit" env:"PATROL_FEED_WORKING_SET_LIMIT" env-default:"200"`
}

type IncidentsConfig struct {
	// DisplayIDFormat supports {date} (YYYYMMDD from the incident timestamp)
	// and {seq[:width]} (global monotonic counter).
	DisplayIDFormat string `yaml:"display_id_format" env:"PATROL_INCIDENTS_DISPLAY_ID_FORMAT" env-default:"INC-{date}-{seq:03}"`
}

type SyncConfig struct {
	WatchIntervalMillis int `yaml:"watch_interval_millis" env:"PATROL_SYNC_WATCH_INTERVAL_MILLIS" env-default:"250"`
}

type RetentionConfig struct {
	// EnvelopeKeep bounds the broadcast envelope history retained for audit.
	EnvelopeKeep int    `yaml:"envelope_keep" env:"PATROL_RETENTION_ENVELOPE_KEEP" env-default:"500"`
	Schedule     string `yaml:"schedule" env:"PATROL_RETENTION_SCHEDULE" env-default:"@hourly"`
}
