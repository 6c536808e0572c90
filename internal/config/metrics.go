package config

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	configMetricsOnce sync.Once
	configCounter     metric.Int64Counter
)

// recordConfigLoad emits one event per failing config section, or a single success
// event. It uses the global meter provider, so loads that happen before observability
// init land in the no-op provider.
func recordConfigLoad(ctx context.Context, profile string, err error) {
	configMetricsOnce.Do(func() {
		counter, cerr := otel.Meter("taskflow-api/config").Int64Counter("config.validation.events")
		if cerr == nil {
			configCounter = counter
		}
	})
	if configCounter == nil {
		return
	}
	profile = normalizeConfigProfile(profile)
	if err == nil {
		configCounter.Add(ctx, 1, configAttrs(profile, "success", "none", "none"))
		return
	}
	class := classifyConfigLoadError(err)
	sections := invalidSections(err)
	if len(sections) == 0 {
		sections = []string{"unknown"}
	}
	for _, section := range sections {
		configCounter.Add(ctx, 1, configAttrs(profile, "failure", class, section))
	}
}

func configAttrs(profile, outcome, class, section string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("profile", profile),
		attribute.String("outcome", outcome),
		attribute.String("error_class", class),
		attribute.String("section", section),
	)
}

func normalizeConfigProfile(profile string) string {
	v := strings.TrimSpace(strings.ToLower(profile))
	switch v {
	case "":
		return "unknown"
	case "production":
		return "prod"
	case "development":
		return "dev"
	}
	return v
}

func classifyConfigLoadError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrConfigInvalid):
		return "validation"
	case errors.Is(err, ErrConfigFile):
		return "file"
	case errors.Is(err, ErrConfigParse):
		return "parse"
	default:
		return "load"
	}
}

// invalidSections returns the sorted, de-duplicated sections of every FieldError in err.
func invalidSections(err error) []string {
	var out []string
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if fe, ok := e.(*FieldError); ok {
			out = append(out, configSection(fe.Key))
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	slices.Sort(out)
	return slices.Compact(out)
}

func configSection(key string) string {
	switch {
	case strings.HasPrefix(key, "DATABASE_"):
		return "database"
	case strings.HasPrefix(key, "JWT_"), strings.HasPrefix(key, "REFRESH_TOKEN_"):
		return "tokens"
	case key == "SESSION_MAX_ACTIVE":
		return "sessions"
	case strings.HasSuffix(key, "_CODE_TTL"), key == "BCRYPT_COST":
		return "credentials"
	case strings.HasPrefix(key, "QUEUE_"), strings.HasPrefix(key, "REDIS_"),
		strings.HasPrefix(key, "AMQP_"), strings.HasPrefix(key, "JOB_"):
		return "queue"
	case strings.HasPrefix(key, "OTEL_"):
		return "telemetry"
	default:
		return "server"
	}
}
