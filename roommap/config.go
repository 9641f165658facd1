package roommap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the full configuration file
type Config struct {
	Robot          RobotConfig   `yaml:"robot" json:"robot"`
	MQTT           MQTTConfig    `yaml:"mqtt" json:"mqtt"`
	HTTP           HTTPConfig    `yaml:"http" json:"http"`
	History        HistoryConfig `yaml:"history" json:"history"`
	Map            MapConfig     `yaml:"map" json:"map"`
	StaleThreshold int           `yaml:"staleThreshold,omitempty" json:"staleThreshold,omitempty"`
}

// RobotConfig locates the robot's HTTP API.
type RobotConfig struct {
	BaseURL        string        `yaml:"baseUrl" json:"baseUrl"`
	PollInterval   time.Duration `yaml:"pollInterval,omitempty" json:"pollInterval,omitempty"`
	StatusInterval time.Duration `yaml:"statusInterval,omitempty" json:"statusInterval,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	StatusTopic   string `yaml:"statusTopic,omitempty" json:"statusTopic,omitempty"`
}

// HTTPConfig configures the dashboard server.
type HTTPConfig struct {
	Port int `yaml:"port,omitempty" json:"port,omitempty"`
}

// HistoryConfig locates the cleaning history database.
type HistoryConfig struct {
	DBPath string `yaml:"dbPath,omitempty" json:"dbPath,omitempty"`
}

// MapConfig selects the map file and the render viewport size.
type MapConfig struct {
	File           string  `yaml:"file,omitempty" json:"file,omitempty"`
	ViewportWidth  float64 `yaml:"viewportWidth,omitempty" json:"viewportWidth,omitempty"`
	ViewportHeight float64 `yaml:"viewportHeight,omitempty" json:"viewportHeight,omitempty"`
}

const (
	DefaultStatusInterval = 5 * time.Second
	DefaultHTTPPort       = 8080
	DefaultHistoryPath    = "data/history.db"
	DefaultViewportWidth  = 800
	DefaultViewportHeight = 600
	DefaultStatusTopic    = "valetudo/robot/StatusStateAttribute/status"
	DefaultClientID       = "roomdash"
	DefaultPublishPrefix  = "roomdash"
)

// DefaultConfig returns a configuration with every optional field filled.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Robot.PollInterval <= 0 {
		c.Robot.PollInterval = DefaultPollInterval
	}
	if c.Robot.StatusInterval <= 0 {
		c.Robot.StatusInterval = DefaultStatusInterval
	}
	if c.Robot.Timeout <= 0 {
		c.Robot.Timeout = DefaultFetchTimeout
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultClientID
	}
	if c.MQTT.PublishPrefix == "" {
		c.MQTT.PublishPrefix = DefaultPublishPrefix
	}
	if c.MQTT.StatusTopic == "" {
		c.MQTT.StatusTopic = DefaultStatusTopic
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.History.DBPath == "" {
		c.History.DBPath = DefaultHistoryPath
	}
	if c.Map.ViewportWidth <= 0 {
		c.Map.ViewportWidth = DefaultViewportWidth
	}
	if c.Map.ViewportHeight <= 0 {
		c.Map.ViewportHeight = DefaultViewportHeight
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = DefaultStaleThreshold
	}
}

// ApplyEnv overrides fields from the environment. Variables that are unset
// leave the file value in place.
func (c *Config) ApplyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.Robot.BaseURL, "ROBOT_URL")
	setString(&c.MQTT.Broker, "MQTT_BROKER")
	setString(&c.MQTT.ClientID, "MQTT_CLIENT_ID")
	setString(&c.MQTT.Username, "MQTT_USERNAME")
	setString(&c.MQTT.Password, "MQTT_PASSWORD")
	setString(&c.MQTT.PublishPrefix, "MQTT_PUBLISH_PREFIX")
	setString(&c.History.DBPath, "HISTORY_DB")

	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = port
		}
	}
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	if c.Robot.BaseURL == "" {
		return fmt.Errorf("robot.baseUrl is required")
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.MQTT.Broker != "" && c.MQTT.StatusTopic == "" {
		return fmt.Errorf("mqtt.statusTopic is required when mqtt.broker is set")
	}
	return nil
}

// LoadConfig reads the configuration and validates it.
func LoadConfig(path string) (*Config, error) {
	config, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ReadConfig loads the configuration from a YAML file, fills defaults and
// applies environment overrides. It does not validate.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.applyDefaults()
	config.ApplyEnv()
	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
