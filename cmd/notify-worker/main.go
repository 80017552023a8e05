// Package main is the entrypoint for the Notify Worker Lambda function.
//
// The Notify Worker consumes delivery messages from the notification SQS
// queue and routes each one through the dispatcher to the channel notifier
// for its platform (Telegram, Discord, or webhook). Each message targets a
// single (generation, platform) pair; the producer fans out one message per
// configured channel.
//
// Cold Start (main):
//  1. Initialize structured logger.
//  2. Load and validate service configuration (SSM-backed secrets).
//  3. Load AWS SDK configuration, initialize SQS and CloudWatch clients.
//  4. Open the PostgreSQL pool and wire the delivery repository.
//  5. Build the HTTP clients (SSRF-safe for webhooks in production) and the
//     three channel notifiers.
//  6. Build the dispatcher with delivery manager, publisher, and metrics.
//  7. Register the handler and call lambda.Start.
//
// Handler flow per SQS batch record:
//  1. Unmarshal the DeliveryMessage (parse failures are ACKed, never retried).
//  2. Record queue lag from the SentTimestamp attribute.
//  3. Dispatch. A non-nil error means infrastructure failure before any
//     delivery state existed; the record is reported as a batch item failure
//     so SQS redelivers it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"conjure/internal/apiclient"
	"conjure/internal/config"
	"conjure/internal/db"
	"conjure/internal/notify/core"
	"conjure/internal/notify/discord"
	"conjure/internal/notify/telegram"
	"conjure/internal/notify/webhook"
	"conjure/internal/security"
	"conjure/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
// slog.Logger satisfies Info, Error, and Warn directly but With returns
// *slog.Logger, not types.Logger, so an adapter is necessary.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// dispatcher is the subset of *core.Dispatcher the handler needs.
type dispatcher interface {
	Dispatch(ctx context.Context, msg types.DeliveryMessage) error
}

// Handler holds the dependencies for the notify worker Lambda handler.
type Handler struct {
	dispatcher dispatcher
	metrics    core.NotificationMetrics
	logger     types.Logger
}

// Handle processes an SQS event containing one or more delivery messages.
// Each message is processed independently. Lambda SQS integration uses
// partial batch responses: messages that fail processing are returned in
// batchItemFailures so SQS redelivers only those.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processRecord handles a single SQS record through the dispatch pipeline.
func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	var msg types.DeliveryMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		h.logger.Error("failed to unmarshal delivery message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		// Permanent parse failure. Return nil to ACK; redelivery cannot fix it.
		return nil
	}

	// Producers normally stamp a trace ID; synthesize one for messages that
	// arrived without it so downstream logs stay correlatable.
	if msg.TraceID == "" {
		msg.TraceID = uuid.New().String()
	}
	// Outbound internal API calls read the ID back to set X-B3-TraceId.
	ctx = types.WithRequestID(ctx, msg.TraceID)

	h.logger.Info("processing delivery message",
		"message_id", record.MessageId,
		"generation_id", msg.GenerationID,
		"platform", string(msg.Platform),
		"retry_count", msg.RetryCount,
	)

	if sentTimestamp, ok := record.Attributes["SentTimestamp"]; ok {
		if sentAt, err := parseMillisTimestamp(sentTimestamp); err == nil {
			h.metrics.RecordQueueLag(ctx, time.Since(sentAt))
		}
	}

	return h.dispatcher.Dispatch(ctx, msg)
}

// parseMillisTimestamp parses a millisecond-epoch string into a time.Time.
// Used for the SQS SentTimestamp attribute to calculate queue lag.
func parseMillisTimestamp(ms string) (time.Time, error) {
	var millis int64
	if _, err := fmt.Sscanf(ms, "%d", &millis); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(millis), nil
}

func main() {
	// Bootstrap logger for the cold-start phase, before config provides a level.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("Notify Worker Lambda initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewSSMSource(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger = newLogger(cfg.LogLevel)
	typedLogger := &slogAdapter{logger: logger}

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	// EndpointURL is set for LocalStack runs; empty in real environments.
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	pool, err := newDatabasePool(ctx, cfg)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}

	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Chat platform API calls and media fetches follow URLs carried in
	// delivery records, so both use SSRF-safe clients.
	chatClient, err := security.NewSafeHTTPClient(30*time.Second, 3)
	if err != nil {
		logger.Error("failed to create chat HTTP client", "error", err)
		os.Exit(1)
	}
	webhookClient, err := newWebhookClient(cfg)
	if err != nil {
		logger.Error("failed to create webhook HTTP client", "error", err)
		os.Exit(1)
	}

	webhookOpts := []webhook.Option{
		webhook.WithUserAgent(cfg.Webhook.UserAgent),
		webhook.WithAttemptTimeout(cfg.Webhook.AttemptTimeout),
	}
	if cfg.IsProduction() {
		validateURL, err := security.NewSSRFValidator()
		if err != nil {
			logger.Error("failed to create SSRF validator", "error", err)
			os.Exit(1)
		}
		webhookOpts = append(webhookOpts, webhook.WithSSRFValidator(validateURL))
	}

	fetcher := core.NewFetcher(chatClient, typedLogger)

	casts := apiclient.New(
		&http.Client{Timeout: cfg.InternalAPI.Timeout},
		cfg.InternalAPI.BaseURL,
		cfg.InternalAPI.ClientKey,
		typedLogger,
	)

	telegramAPI := telegram.NewAPI(chatClient, cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken)
	discordAPI := discord.NewAPI(chatClient, cfg.Discord.APIBaseURL, cfg.Discord.BotToken)

	notifiers := []types.Notifier{
		telegram.NewNotifier(telegramAPI, fetcher, typedLogger),
		discord.NewNotifier(discordAPI, fetcher, typedLogger),
		webhook.NewNotifier(webhookClient, casts, types.RealClock{}, cfg.IsProduction(), typedLogger, webhookOpts...),
	}

	deliveryRepo := db.NewDeliveryRepository(pool)
	deliveryMgr := core.NewDeliveryManager(deliveryRepo, core.JobRetryPolicy, typedLogger)
	publisher := core.NewDeliveryPublisher(sqsClient, cfg.AWS.NotificationQueue, typedLogger)
	metrics := core.NewCloudWatchNotificationMetrics(cwClient, cfg.Observability.MetricNamespace, typedLogger)

	disp := core.NewDispatcher(
		notifiers,
		deliveryMgr,
		publisher,
		metrics,
		core.JobRetryPolicy,
		types.RealClock{},
		typedLogger,
	)

	handler := &Handler{
		dispatcher: disp,
		metrics:    metrics,
		logger:     typedLogger,
	}

	logger.Info("Notify Worker Lambda initialized",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"notification_queue", cfg.AWS.NotificationQueue,
		"user_agent", cfg.Webhook.UserAgent,
		"attempt_timeout", cfg.Webhook.AttemptTimeout.String(),
	)

	lambda.Start(handler.Handle)
}

// newWebhookClient builds the HTTP client used for webhook deliveries.
// Production environments get the SSRF-safe transport; elsewhere a plain
// client keeps localhost and private-network endpoints reachable, which local
// testing against a loopback receiver depends on.
func newWebhookClient(cfg *config.Config) (*http.Client, error) {
	if cfg.IsProduction() {
		return security.NewSafeHTTPClient(cfg.Webhook.AttemptTimeout, cfg.Webhook.MaxRedirects)
	}
	return &http.Client{
		Timeout: cfg.Webhook.AttemptTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.Webhook.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.Webhook.MaxRedirects)
			}
			return nil
		},
	}, nil
}

// newDatabasePool builds a pgx pool with the tuning values from configuration.
func newDatabasePool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}

// Compile-time assertions.
var (
	_ types.Logger = (*slogAdapter)(nil)
	_ dispatcher   = (*core.Dispatcher)(nil)
)
