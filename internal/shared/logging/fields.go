// Package logging provides a chainable structured-fields builder on top of
// zap, wired through logr/zapr so callers depend on the logr.Logger
// interface rather than zap directly.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
)

// Fields is a chainable builder for structured logging key/value pairs.
type Fields map[string]interface{}

// NewFields returns an empty Fields builder.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, resourceName string) Fields {
	f["resource_type"] = resourceType
	f["resource_name"] = resourceName
	return f
}

func (f Fields) Platform(name string) Fields {
	f["platform"] = name
	return f
}

func (f Fields) AffiliateID(id string) Fields {
	f["affiliate_id"] = id
	return f
}

func (f Fields) Err(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) With(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// KVs flattens Fields into a logr-compatible key/value slice.
func (f Fields) KVs() []interface{} {
	kvs := make([]interface{}, 0, len(f)*2)
	for k, v := range f {
		kvs = append(kvs, k, v)
	}
	return kvs
}

// NewLogger builds a logr.Logger backed by a production zap core, matching
// the teacher's zap+logr+zapr wiring.
func NewLogger(level zapcore.Level) (logr.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	zl, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zl), nil
}
