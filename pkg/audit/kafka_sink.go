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
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"

	"github.com/telekom/owners-notify/pkg/metrics"
)

const (
	defaultKafkaBatchSize    = 100
	defaultKafkaBatchTimeout = time.Second
	defaultKafkaWriteTimeout = 10 * time.Second
)

var kafkaCodecs = map[string]kafka.Compression{
	"":       kafka.Snappy,
	"none":   0,
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

// KafkaSinkConfig configures a KafkaSink.
type KafkaSinkConfig struct {
	Name    string
	Brokers []string

	// Topic receives every event whose family is not listed in Topics.
	Topic string
	// Topics maps an event family (see EventType.Family) to its own topic.
	Topics map[string]string

	TLS  *KafkaTLSConfig
	SASL *KafkaSASLConfig

	// Zero values fall back to 100 messages, one second and ten seconds.
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration

	// CompressionCodec is "none", "gzip", "snappy" (default), "lz4" or "zstd".
	CompressionCodec string
}

// KafkaTLSConfig carries PEM material for the broker connection.
type KafkaTLSConfig struct {
	Enabled            bool
	CACert             []byte
	ClientCert         []byte
	ClientKey          []byte
	InsecureSkipVerify bool
}

// KafkaSASLConfig holds SASL credentials. Mechanism is PLAIN, SCRAM-SHA-256
// or SCRAM-SHA-512.
type KafkaSASLConfig struct {
	Mechanism string
	Username  string
	Password  string
}

// KafkaSink publishes audit events to Kafka. Messages are keyed by package
// so the history of one package stays ordered within a partition.
type KafkaSink struct {
	name   string
	topic  string
	topics map[string]string
	writer *kafka.Writer
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewKafkaSink creates a KafkaSink. Brokers are not contacted before the
// first write.
func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("Kafka topic is required")
	}
	compression, ok := kafkaCodecs[strings.ToLower(cfg.CompressionCodec)]
	if !ok {
		return nil, fmt.Errorf("unsupported compression codec: %s", cfg.CompressionCodec)
	}
	transport, err := newKafkaTransport(cfg)
	if err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = "kafka"
	}

	// Topic stays empty on the writer: every message names its own.
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              orDefault(cfg.BatchSize, defaultKafkaBatchSize),
		BatchTimeout:           orDefault(cfg.BatchTimeout, defaultKafkaBatchTimeout),
		WriteTimeout:           orDefault(cfg.WriteTimeout, defaultKafkaWriteTimeout),
		RequiredAcks:           kafka.RequireAll,
		Compression:            compression,
		Transport:              transport,
		AllowAutoTopicCreation: false,
	}

	logger.Info("Kafka audit sink created",
		zap.String("name", name),
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Any("familyTopics", cfg.Topics))

	return &KafkaSink{
		name:   name,
		topic:  cfg.Topic,
		topics: cfg.Topics,
		writer: writer,
		logger: logger.Named("kafka-audit"),
	}, nil
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

func newKafkaTransport(cfg KafkaSinkConfig) (*kafka.Transport, error) {
	transport := &kafka.Transport{}
	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS config: %w", err)
		}
		transport.TLS = tlsConfig
	}
	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		mechanism, err := buildSASLMechanism(cfg.SASL)
		if err != nil {
			return nil, fmt.Errorf("failed to build SASL mechanism: %w", err)
		}
		transport.SASL = mechanism
	}
	return transport, nil
}

// topicFor routes an event by its family, falling back to the default topic.
func (s *KafkaSink) topicFor(t EventType) string {
	if topic := s.topics[t.Family()]; topic != "" {
		return topic
	}
	return s.topic
}

// message encodes an event. The key is the package ID; events that concern
// no package (startup, reload) are keyed by their own ID.
func (s *KafkaSink) message(event *Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}

	key := event.PackageID()
	headers := []kafka.Header{
		{Key: "event-type", Value: []byte(event.Type)},
		{Key: "event-family", Value: []byte(event.Type.Family())},
		{Key: "severity", Value: []byte(event.Severity)},
		{Key: "timestamp", Value: []byte(event.Timestamp.UTC().Format(time.RFC3339))},
	}
	if key != "" {
		headers = append(headers, kafka.Header{Key: "package-id", Value: []byte(key)})
	} else {
		key = event.ID
	}
	if event.Actor.User != "" {
		headers = append(headers, kafka.Header{Key: "actor", Value: []byte(event.Actor.User)})
	}
	if rc := event.RequestContext; rc != nil && rc.ThreadID != "" {
		headers = append(headers, kafka.Header{Key: "thread-id", Value: []byte(rc.ThreadID)})
	}

	return kafka.Message{
		Topic:   s.topicFor(event.Type),
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
	}, nil
}

// Write publishes a single event.
func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	return s.WriteBatch(ctx, []*Event{event})
}

// WriteBatch publishes events in one producer call. Events that cannot be
// encoded are counted as failed and skipped.
func (s *KafkaSink) WriteBatch(ctx context.Context, events []*Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		metrics.AuditEventsFailed.WithLabelValues(s.name).Add(float64(len(events)))
		return fmt.Errorf("kafka sink %s is closed", s.name)
	}

	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		msg, err := s.message(event)
		if err != nil {
			metrics.AuditEventsFailed.WithLabelValues(s.name).Inc()
			s.logger.Warn("dropping audit event that cannot be encoded",
				zap.String("eventID", event.ID),
				zap.String("package", event.PackageID()),
				zap.Error(err))
			continue
		}
		messages = append(messages, msg)
	}
	if len(messages) == 0 {
		return nil
	}

	start := time.Now()
	if err := s.writer.WriteMessages(ctx, messages...); err != nil {
		metrics.AuditEventsFailed.WithLabelValues(s.name).Add(float64(len(messages)))
		s.logger.Warn("failed to publish audit events",
			zap.Int("events", len(messages)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return fmt.Errorf("failed to publish %d audit events to Kafka: %w", len(messages), err)
	}
	metrics.AuditEventsWritten.WithLabelValues(s.name).Add(float64(len(messages)))
	return nil
}

// Close flushes pending messages and closes the writer. Later calls are no-ops.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	return nil
}

func (s *KafkaSink) Name() string {
	return s.name
}

func buildTLSConfig(cfg *KafkaTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for test clusters
	}
	if len(cfg.CACert) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cfg.CACert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	if len(cfg.ClientCert) > 0 && len(cfg.ClientKey) > 0 {
		cert, err := tls.X509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func buildSASLMechanism(cfg *KafkaSASLConfig) (sasl.Mechanism, error) {
	var algo scram.Algorithm
	switch strings.ToUpper(cfg.Mechanism) {
	case "PLAIN":
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	case "SCRAM-SHA-256":
		algo = scram.SHA256
	case "SCRAM-SHA-512":
		algo = scram.SHA512
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.Mechanism)
	}
	mechanism, err := scram.Mechanism(algo, cfg.Username, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s mechanism: %w", cfg.Mechanism, err)
	}
	return mechanism, nil
}
