/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/telekom/owners-notify/pkg/config"
)

// NewManagerFromConfig builds the configured sinks and starts a manager on
// top of them. A disabled audit trail yields a manager without sinks.
func NewManagerFromConfig(cfg config.Audit, logger *zap.Logger) *Manager {
	var sinks []Sink
	if cfg.Enabled {
		sinks = BuildSinks(cfg, logger)
	}
	return NewManager(NewMultiSink(sinks, logger), DefaultManagerConfig(), logger)
}

// BuildSinks creates the log sink plus any configured network sinks. Sinks
// that cannot be built are skipped with a warning.
func BuildSinks(cfg config.Audit, logger *zap.Logger) []Sink {
	sinks := []Sink{NewLogSink(logger)}

	if cfg.Kafka != nil {
		sink, err := buildKafkaSink(cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to build sink, skipping",
				zap.String("type", "kafka"),
				zap.String("error", err.Error()))
		} else {
			sinks = append(sinks, sink)
		}
	}

	if cfg.Webhook != nil {
		sinks = append(sinks, NewWebhookSink(WebhookSinkConfig{
			Name:    "webhook",
			URL:     cfg.Webhook.URL,
			Headers: cfg.Webhook.Headers,
		}, logger))
	}

	return sinks
}

func buildKafkaSink(cfg *config.KafkaAudit, logger *zap.Logger) (Sink, error) {
	kafkaCfg := KafkaSinkConfig{
		Name:             "kafka",
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		Topics:           cfg.Topics,
		CompressionCodec: cfg.Compression,
	}

	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsCfg, err := buildKafkaTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS config: %w", err)
		}
		kafkaCfg.TLS = tlsCfg
	}

	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		kafkaCfg.SASL = &KafkaSASLConfig{
			Mechanism: cfg.SASL.Mechanism,
			Username:  cfg.SASL.Username,
			Password:  cfg.SASL.Password,
		}
	}

	return NewKafkaSink(kafkaCfg, logger)
}

func buildKafkaTLSConfig(cfg *config.KafkaTLS) (*KafkaTLSConfig, error) {
	out := &KafkaTLSConfig{
		Enabled:            true,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CAFile != "" {
		ca, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
		out.CACert = ca
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := os.ReadFile(cfg.CertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client key: %w", err)
		}
		out.ClientCert = cert
		out.ClientKey = key
	}

	return out, nil
}
