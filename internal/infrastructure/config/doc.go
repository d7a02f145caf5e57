// Package config loads the identity service configuration.
//
// Values come from three layers, later ones winning: built-in defaults, the
// YAML file, then GRAYLOGIC_* environment variables. Secrets such as
// GRAYLOGIC_JWT_SECRET, GRAYLOGIC_REDIS_PASSWORD and GRAYLOGIC_MQTT_PASSWORD
// are best supplied through the environment. Load validates the merged
// result and reports every problem at once.
//
//	cfg, err := config.Load("configs/config.yaml")
package config
