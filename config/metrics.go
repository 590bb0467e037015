package config

// MetricsConfig selects the metrics backends. Both are optional; with
// neither enabled the service records nothing.
type MetricsConfig struct {
	Prometheus PrometheusConfig `json:"prometheus"`
	Influx     InfluxConfig     `json:"influx"`
}

// PrometheusConfig enables the Prometheus exposer.
type PrometheusConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// InfluxConfig enables the InfluxDB sink. An empty URL disables it.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// SetDefaults applies sane defaults.
func (c *MetricsConfig) SetDefaults() {
	if c.Prometheus.Address == "" {
		c.Prometheus.Address = ":9090"
	}
}
