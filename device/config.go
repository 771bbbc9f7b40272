package device

type Config struct { //nolint:maligned
	Type    int  `hcl:"type"`
	ID      int  `hcl:"id"`
	State   int  `hcl:"state"`
	Persist bool `hcl:"persist"`
	// Manual leaves tasks for operator to answer, like bench testing with real console.
	Manual              bool `hcl:"manual"`
	TaskDelayMs         int  `hcl:"task_delay_ms"`
	TelemetryIntervalMs int  `hcl:"telemetry_interval_ms"`
	MapWidth            int  `hcl:"map_width"`
	MapHeight           int  `hcl:"map_height"`
}

// Defaults match reference vehicle identity type=1 id=2 state=WAIT.
func (c *Config) setDefaults() {
	if c.Type == 0 && c.ID == 0 && c.State == 0 {
		c.Type, c.ID, c.State = 1, 2, 3
	}
}
