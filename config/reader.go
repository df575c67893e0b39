package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type ConfigSchema struct {
	Supabase struct {
		ProjectURL string        `yaml:"project_url"`
		AnonKey    string        `yaml:"anon_key"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"supabase"`
	Backend struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"backend"`
	Redis struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	RabbitMQ struct {
		URL string `yaml:"url"`
	} `yaml:"rabbitmq"`
	Feed struct {
		RetryBase     time.Duration `yaml:"retry_base"`
		RetryCap      time.Duration `yaml:"retry_cap"`
		RetryMax      int           `yaml:"retry_max"`
		RefreshPerSec float64       `yaml:"refresh_per_sec"`
	} `yaml:"feed"`
	Logs struct {
		Level string `yaml:"level"`
	} `yaml:"logs"`
}

var AppConfig ConfigSchema

func LoadConfig(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	err = yaml.Unmarshal(data, &AppConfig)
	return err
}
