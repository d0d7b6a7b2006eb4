// Package config loads process configuration from environment variables,
// with defaults sane enough to run a single-node control plane without any
// environment set at all.
//
//	cfg := config.Load()
//	fmt.Println(cfg.BrokerURL)
//	fmt.Println(cfg.ViabilityThreshold)
//
// AppConfig is a read-only snapshot taken at Load() time; nothing re-reads
// the environment afterward.
package config
