// defaults.go: default values for every configuration key
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers defaults so a sparse config file still yields a runnable node
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("main.name", "dipper")

	viper.SetDefault("ebird.apikey", "")
	viper.SetDefault("ebird.baseurl", "https://api.ebird.org/v2")
	viper.SetDefault("ebird.timeout", 30*time.Second)
	viper.SetDefault("ebird.cachettl", 24*time.Hour)
	viper.SetDefault("ebird.ratelimit", 10.0)
	viper.SetDefault("ebird.retryattempts", 3)
	viper.SetDefault("ebird.retrydelay", 5*time.Second)
	viper.SetDefault("ebird.backdays", 2)
	viper.SetDefault("ebird.maxresults", 200)
	viper.SetDefault("ebird.locale", "")

	viper.SetDefault("discord.webhooktemplate", "")
	viper.SetDefault("discord.ratelimit", 1.0)
	viper.SetDefault("discord.timeout", 15*time.Second)

	viper.SetDefault("regions.parent", "US-CO")
	viper.SetDefault("regions.prefix", "US-CO-")
	viper.SetDefault("regions.codes", []string{})
	viper.SetDefault("regions.destinations", map[string]string{})

	viper.SetDefault("schedule.enabled", true)
	viper.SetDefault("schedule.timezone", "America/Denver")
	viper.SetDefault("schedule.times", []string{"07:00", "17:00"})
	viper.SetDefault("schedule.refreshthreads", true)

	viper.SetDefault("pipeline.fetchconcurrency", 1)
	viper.SetDefault("pipeline.maxmessagelength", 2000)
	viper.SetDefault("pipeline.clusterradiuskm", 2.0)
	viper.SetDefault("pipeline.maxalsoreported", 10)
	viper.SetDefault("pipeline.silent", true)
	viper.SetDefault("pipeline.recencyupdates", false)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "dipper.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
	viper.SetDefault("output.mysql.database", "dipper")

	viper.SetDefault("notification.circuitbreaker.maxfailures", 5)
	viper.SetDefault("notification.circuitbreaker.timeout", 30*time.Second)
	viper.SetDefault("notification.timeout", 15*time.Second)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "dipper/rba")
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("webserver.enabled", false)
	viper.SetDefault("webserver.port", "8080")

	viper.SetDefault("metrics.enabled", true)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.environment", "production")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.flush_interval", "5s")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/dipper.log")
	viper.SetDefault("logging.file_output.level", "info")
}
