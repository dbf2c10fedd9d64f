// Package logger builds the service's zap logger. Development mode gets
// console output, production gets JSON with sampling.
package logger

import (
	"go.uber.org/zap"
)

type Config struct {
	Development bool
	Name        string // optional logger name, shown as the "logger" field
}

func New(cfg Config) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if cfg.Development {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	if cfg.Name != "" {
		l = l.Named(cfg.Name)
	}
	return l.Sugar(), nil
}
