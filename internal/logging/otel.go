package logging

import (
	"fmt"
	"io"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// OTELScope names the instrumentation scope of bridged log records.
const OTELScope = "github.com/fyrsmithlabs/patternd"

// newCore tees the stderr and OTEL outputs and applies sampling.
func newCore(cfg *Config, w io.Writer, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var cores []zapcore.Core
	if cfg.Output.Stderr {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), level))
	}
	if cfg.Output.OTEL && otelProvider != nil {
		bridged := otelzap.NewCore(OTELScope, otelzap.WithLoggerProvider(otelProvider))
		cores = append(cores, &levelFilterCore{Core: bridged, minLevel: level, hasMin: true})
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one output must be enabled and available")
	}

	core := zapcore.NewTee(cores...)
	return newSampledCore(core, cfg.Sampling), nil
}
