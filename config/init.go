package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/customeros/dmarcwatch/internal/logger"
	"github.com/customeros/dmarcwatch/internal/tracing"
)

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:         &AppConfig{},
		Logger:            &logger.Config{},
		Tracing:           &tracing.JaegerConfig{},
		DatabaseConfig:    &DatabaseConfig{},
		GeolocationConfig: &GeolocationConfig{},
		ReprocessConfig:   &ReprocessConfig{},
	}

	if err := godotenv.Load(); err != nil {
		log.Print("Unable to load .env file")
	}

	if err := env.Parse(config.AppConfig); err != nil {
		return nil, err
	}
	if err := env.Parse(config.Logger); err != nil {
		return nil, err
	}
	if err := env.Parse(config.Tracing); err != nil {
		return nil, err
	}
	if err := env.Parse(config.DatabaseConfig); err != nil {
		return nil, err
	}
	if err := env.Parse(config.GeolocationConfig); err != nil {
		return nil, err
	}
	if err := env.Parse(config.ReprocessConfig); err != nil {
		return nil, err
	}

	return config, nil
}
