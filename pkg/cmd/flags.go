package cmd

import (
	"time"

	cli "github.com/urfave/cli/v3"
)

const (
	defaultApprovalTTL    = 7 * 24 * time.Hour
	defaultExpirySchedule = "*/15 * * * *"
)

// CommonFlags are shared by every binary that runs the engine.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (file://<dir> or postgres://...)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka broker addresses",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for exact rate-limit counters (ledger counts when empty)",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:     "adapter-url",
			Usage:    "Base URL of the host application's internal API",
			Required: true,
			Sources:  cli.EnvVars("ADAPTER_URL"),
		},
		&cli.StringFlag{
			Name:    "adapter-token",
			Usage:   "Bearer token sent to the host application",
			Sources: cli.EnvVars("ADAPTER_TOKEN"),
		},
		&cli.IntFlag{
			Name:    "max-depth",
			Usage:   "Maximum nesting depth of workflow-caused events",
			Value:   3,
			Sources: cli.EnvVars("MAX_DEPTH"),
		},
		&cli.IntFlag{
			Name:    "max-actions-per-call",
			Usage:   "Maximum actions executed per top-level event, nested events included (0 = unbounded)",
			Value:   0,
			Sources: cli.EnvVars("MAX_ACTIONS_PER_CALL"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// ExpiryFlags configure the approval-expiry sweep.
func ExpiryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:    "approval-ttl",
			Usage:   "How long an execution may wait for an approval before it expires",
			Value:   defaultApprovalTTL,
			Sources: cli.EnvVars("APPROVAL_TTL"),
		},
		&cli.StringFlag{
			Name:    "expiry-schedule",
			Usage:   "Cron schedule of the approval-expiry sweep",
			Value:   defaultExpirySchedule,
			Sources: cli.EnvVars("EXPIRY_SCHEDULE"),
		},
	}
}

// EngineConfigFromCommand reads the engine settings parsed from CommonFlags.
func EngineConfigFromCommand(command *cli.Command) EngineConfig {
	return EngineConfig{
		DatabaseURL:       command.String("database-url"),
		EventBus:          command.String("event-bus"),
		KafkaBrokers:      command.StringSlice("kafka-brokers"),
		RedisURL:          command.String("redis-url"),
		AdapterURL:        command.String("adapter-url"),
		AdapterToken:      command.String("adapter-token"),
		MaxDepth:          command.Int("max-depth"),
		MaxActionsPerCall: command.Int("max-actions-per-call"),
		OTELEnabled:       command.Bool("otel-enabled"),
	}
}
