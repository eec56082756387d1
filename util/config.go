package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
	"strings"
)

const Name = "mammut"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host            string
		HttpPort        int      `yaml:"httpPort"`
		SslDomain       string   `yaml:"sslDomain"`
		WithAp          bool     `yaml:"withAp"`
		SignGetRequests bool     `yaml:"signGetRequests"`
		BlockedHosts    []string `yaml:"blockedHosts"`
		DeliveryWorkers int      `yaml:"deliveryWorkers"`
		DeliveryRate    int      `yaml:"deliveryRate"` // deliveries per second across all workers
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("MAMMUT_HOST")
	envHttpPort := os.Getenv("MAMMUT_HTTPPORT")
	envSslDomain := os.Getenv("MAMMUT_SSLDOMAIN")
	envWithAp := os.Getenv("MAMMUT_WITH_AP")
	envSignGet := os.Getenv("MAMMUT_SIGN_GET")
	envBlockedHosts := os.Getenv("MAMMUT_BLOCKED_HOSTS")
	envDeliveryWorkers := os.Getenv("MAMMUT_DELIVERY_WORKERS")
	envDeliveryRate := os.Getenv("MAMMUT_DELIVERY_RATE")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envSslDomain != "" {
		c.Conf.SslDomain = envSslDomain
	}

	if envWithAp == "true" {
		c.Conf.WithAp = true
	}

	if envSignGet == "true" {
		c.Conf.SignGetRequests = true
	}

	if envBlockedHosts != "" {
		c.Conf.BlockedHosts = strings.Split(envBlockedHosts, ",")
	}

	if envDeliveryWorkers != "" {
		v, err := strconv.Atoi(envDeliveryWorkers)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.DeliveryWorkers = v
	}

	if envDeliveryRate != "" {
		v, err := strconv.Atoi(envDeliveryRate)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.DeliveryRate = v
	}

	if c.Conf.DeliveryWorkers <= 0 {
		c.Conf.DeliveryWorkers = 4
	}

	if c.Conf.DeliveryRate <= 0 {
		c.Conf.DeliveryRate = 20
	}

	return c, nil
}
