package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Geolocation backfill scan, every hour
	CronScheduleGeoBackfill string `env:"CRON_SCHEDULE_GEO_BACKFILL" envDefault:"0 0 * * * *"`
	// Stale geolocation cache cleanup, daily at midnight
	CronScheduleLocationCleanup string `env:"CRON_SCHEDULE_LOCATION_CLEANUP" envDefault:"0 0 0 * * *"`
}
