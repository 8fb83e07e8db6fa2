package commands

import (
	"gridharvest/lib/auth"
	"gridharvest/lib/configutil"
	"gridharvest/lib/procutil"
	"gridharvest/lib/sink"
)

type PortalConfig struct {
	// LoginUrl is the account-domain login page
	LoginUrl string `json:"login_url"`
	// BaseUrl is the data domain the usage endpoints live on
	BaseUrl string `json:"base_url"`
	// FuelType pins the meter identifier, empty discovers it from the
	// usage-history page
	FuelType string `json:"fuel_type"`
	// CustomerId is only needed for on-demand meter reads
	CustomerId string `json:"customer_id"`
}

type WebdriverConfig struct {
	Url string `json:"url"`
}

type TranscriberConfig struct {
	Url string `json:"url"`
}

type PollConfig struct {
	IntervalMinutes   int `json:"interval_minutes"`
	DefaultWindowDays int `json:"default_window_days"`
}

type Config struct {
	Credentials  auth.Credentials  `json:"credentials"`
	Portal       PortalConfig      `json:"portal"`
	Webdriver    WebdriverConfig   `json:"webdriver"`
	Transcriber  TranscriberConfig `json:"transcriber"`
	SessionFile  string            `json:"session_file"`
	DataDir      string            `json:"data_dir"`
	CheckpointDb string            `json:"checkpoint_db"`
	// Mqtt enables the secondary sink when present
	Mqtt *sink.MQTTConfig `json:"mqtt"`
	Poll PollConfig       `json:"poll"`
}

func mustConfig() Config {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		procutil.Fatal("failed to read config", err)
	}
	return cfg
}
