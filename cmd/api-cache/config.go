package main

import (
	"os"

	"gopkg.in/yaml.v3"

	apicache "github.com/api-cache/api-cache"
)

type Config struct {
	Port      int              `yaml:"port"`
	Origin    string           `yaml:"origin"`
	DB        string           `yaml:"db"`
	Endpoints []ConfigEndpoint `yaml:"endpoints"`
}

type ConfigEndpoint struct {
	Prefix     string `yaml:"prefix"`
	AuthScoped bool   `yaml:"authScoped"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

func (c Config) endpoints() []apicache.Endpoint {
	endpoints := make([]apicache.Endpoint, 0, len(c.Endpoints))
	for _, e := range c.Endpoints {
		endpoints = append(endpoints, apicache.Endpoint{
			Prefix:     e.Prefix,
			AuthScoped: e.AuthScoped,
		})
	}
	return endpoints
}
