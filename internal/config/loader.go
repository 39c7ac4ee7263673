package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"taskrun/pkg/logging"
)

// ConfigMapKey is the key holding the controller configuration inside a ConfigMap.
const ConfigMapKey = "config.yaml"

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*ControllerConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile loads configuration from path. A missing file yields the defaults.
func LoadFile(path string) (*ControllerConfig, error) {
	if path == "" {
		cfg := DefaultConfig()
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("Config", "No config file found at %s, using defaults", path)
			cfg := DefaultConfig()
			return &cfg, nil
		}
		return nil, &ConfigurationError{Source: "file", Location: path, Message: "failed to read", Err: err}
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, &ConfigurationError{Source: "file", Location: path, Message: "invalid configuration", Err: err}
	}
	logging.Info("Config", "Loaded configuration from %s", path)
	return cfg, nil
}

// LoadFromConfigMap reads the ConfigMapKey entry of the named ConfigMap.
func LoadFromConfigMap(ctx context.Context, reader client.Reader, namespace, name string) (*ControllerConfig, error) {
	location := fmt.Sprintf("%s/%s", namespace, name)

	var cm corev1.ConfigMap
	if err := reader.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, &cm); err != nil {
		return nil, &ConfigurationError{Source: "configmap", Location: location, Message: "failed to get", Err: err}
	}

	data, ok := cm.Data[ConfigMapKey]
	if !ok {
		return nil, &ConfigurationError{Source: "configmap", Location: location, Message: "missing key " + ConfigMapKey}
	}

	cfg, err := Parse([]byte(data))
	if err != nil {
		return nil, &ConfigurationError{Source: "configmap", Location: location, Message: "invalid configuration", Err: err}
	}
	logging.Info("Config", "Loaded configuration from ConfigMap %s", location)
	return cfg, nil
}
