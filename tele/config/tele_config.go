// Separate package is workaround to import cycles.
package tele_config

type Config struct { //nolint:maligned
	Enabled           bool   `hcl:"enable"`
	ClientID          string `hcl:"client_id"`
	KeepaliveSec      int    `hcl:"keepalive_sec"`
	LogDebug          bool   `hcl:"log_debug"`
	MqttBroker        string `hcl:"mqtt_broker"`
	MqttLogDebug      bool   `hcl:"mqtt_log_debug"`
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	Password          string `hcl:"password"` // secret
	PersistPath       string `hcl:"persist_path"`
	TopicPrefix       string `hcl:"topic_prefix"`
	Username          string `hcl:"username"`
}
