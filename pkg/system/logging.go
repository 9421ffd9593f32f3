// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/telekom/owners-notify/pkg/owners"
)

// NewLogger returns the process logger: a development logger in debug mode,
// a production (JSON) logger otherwise.
func NewLogger(debug bool) (*zap.SugaredLogger, error) {
	var (
		zlog *zap.Logger
		err  error
	)
	if debug {
		zlog, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zlog, err = cfg.Build()
	}
	if err != nil {
		return nil, err
	}
	return zlog.Sugar(), nil
}

// NewTestLogger returns a sugared development logger without automatic
// stacktraces, so expected error paths in tests stay readable.
func NewTestLogger() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

// PackageFields returns key/value pairs identifying a package notification,
// suitable for SugaredLogger.With or Infow calls. The actor is only included
// when set.
func PackageFields(pkg owners.Package) []interface{} {
	fields := []interface{}{"package", pkg.ID, "packageName", pkg.Name}
	if pkg.ActorID != "" {
		fields = append(fields, "actor", pkg.ActorID)
	}
	return fields
}
