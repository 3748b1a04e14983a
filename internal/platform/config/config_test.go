package config

import "testing"

func validTestConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:    "show-messenger",
			Version: "0.1.0",
		},
		Server: ServerConfig{
			Host:    "localhost",
			Port:    "8080",
			Timeout: 30,
		},
		Database: DatabaseConfig{
			Mongo: MongoConfig{
				URL:         "mongodb://localhost:27017",
				Database:    "show_messenger",
				MaxPoolSize: 10,
			},
		},
		Log: LogConfig{
			RotationTimeHours: 24,
			MaxAgeDays:        7,
			MaxSizeMB:         100,
		},
	}
}

func TestLoadAppliesDefaultAllowedOrigins(t *testing.T) {
	cfg := validTestConfig()
	if err := Load(cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := Get().Server.AllowedOrigins
	if len(got) != 2 || got[0] != "http://localhost:3000" || got[1] != "http://localhost:8080" {
		t.Errorf("expected local dev origins as default, got %v", got)
	}
}

func TestLoadKeepsConfiguredAllowedOrigins(t *testing.T) {
	cfg := validTestConfig()
	cfg.Server.AllowedOrigins = []string{"https://app.example.com"}
	if err := Load(cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := Get().Server.AllowedOrigins
	if len(got) != 1 || got[0] != "https://app.example.com" {
		t.Errorf("expected configured origins preserved, got %v", got)
	}
}
