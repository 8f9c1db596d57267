package bootstrap

import (
	"context"
	"fmt"
	"time"

	pgaudit "github.com/AureliaStudio/conveyor/internal/adapters/postgres/audit"
	pglock "github.com/AureliaStudio/conveyor/internal/adapters/postgres/lock"
	pgoutbox "github.com/AureliaStudio/conveyor/internal/adapters/postgres/outbox"
	pgprocess "github.com/AureliaStudio/conveyor/internal/adapters/postgres/process"
	pgworkflow "github.com/AureliaStudio/conveyor/internal/adapters/postgres/workflow"
	pgworkitem "github.com/AureliaStudio/conveyor/internal/adapters/postgres/workitem"
	rmq "github.com/AureliaStudio/conveyor/internal/adapters/rabbitmq"
	redisadapter "github.com/AureliaStudio/conveyor/internal/adapters/redis"
	"github.com/AureliaStudio/conveyor/internal/audit"
	"github.com/AureliaStudio/conveyor/internal/behaviour"
	"github.com/AureliaStudio/conveyor/internal/budget"
	"github.com/AureliaStudio/conveyor/internal/bus"
	"github.com/AureliaStudio/conveyor/internal/events"
	"github.com/AureliaStudio/conveyor/internal/lock"
	"github.com/AureliaStudio/conveyor/internal/longprocess"
	"github.com/AureliaStudio/conveyor/internal/payloads"
	"github.com/AureliaStudio/conveyor/internal/processor"
	"github.com/AureliaStudio/conveyor/internal/queue"
	"github.com/AureliaStudio/conveyor/pkg"
	"github.com/AureliaStudio/conveyor/pkg/mpostgres"
	"github.com/AureliaStudio/conveyor/pkg/mrabbitmq"
	"github.com/AureliaStudio/conveyor/pkg/mredis"
	"github.com/AureliaStudio/conveyor/pkg/mzap"
)

const ApplicationName = "conveyor"

// Config is the configuration struct for the conveyor worker service.
type Config struct {
	EnvName  string `env:"ENV_NAME"`
	LogLevel string `env:"LOG_LEVEL"`

	PrimaryDBHost     string `env:"DB_HOST"`
	PrimaryDBUser     string `env:"DB_USER"`
	PrimaryDBPassword string `env:"DB_PASSWORD"`
	PrimaryDBName     string `env:"DB_NAME"`
	PrimaryDBPort     string `env:"DB_PORT"`

	RabbitURI        string `env:"RABBITMQ_URI"`
	RabbitMQHost     string `env:"RABBITMQ_HOST"`
	RabbitMQPortAMQP string `env:"RABBITMQ_PORT_AMQP"`
	RabbitMQUser     string `env:"RABBITMQ_DEFAULT_USER"`
	RabbitMQPass     string `env:"RABBITMQ_DEFAULT_PASS"`
	RabbitMQExchange string `env:"RABBITMQ_EXCHANGE"`

	RedisURI string `env:"REDIS_URI"`

	OutboxBatchSize             int    `env:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts           int    `env:"OUTBOX_MAX_ATTEMPTS"`
	OutboxBaseRetryDelaySeconds int    `env:"OUTBOX_BASE_RETRY_DELAY_SECONDS"`
	OutboxRetryMultiplier       int    `env:"OUTBOX_RETRY_MULTIPLIER"`
	OutboxMaxRetryDelaySeconds  int    `env:"OUTBOX_MAX_RETRY_DELAY_SECONDS"`
	OutboxProcessorInterval     int    `env:"OUTBOX_PROCESSOR_INTERVAL_SECONDS"`
	OutboxLockTimeoutSeconds    int    `env:"OUTBOX_LOCK_TIMEOUT_SECONDS"`
	OutboxDefaultGroup          string `env:"OUTBOX_DEFAULT_GROUP"`
	OutboxMaxInProcessBytes     int    `env:"OUTBOX_MAX_IN_PROCESS_BYTES"`
	OutboxRouteLargeExternal    bool   `env:"OUTBOX_ROUTE_LARGE_PAYLOADS_EXTERNAL"`

	RunnerMaxExecutionSeconds int `env:"RUNNER_MAX_EXECUTION_SECONDS"`
	RunnerMemoryLimitPercent  int `env:"RUNNER_MEMORY_LIMIT_PERCENT"`
	RunnerMemoryCapBytes      int `env:"RUNNER_MEMORY_CAP_BYTES"`

	WorkflowMaxRetries         int `env:"WORKFLOW_MAX_RETRIES"`
	WorkflowRescheduleInterval int `env:"WORKFLOW_RESCHEDULE_INTERVAL_SECONDS"`
	WorkflowForkDelaySeconds   int `env:"WORKFLOW_FORK_DELAY_SECONDS"`

	LockDurationSeconds int `env:"LOCK_DURATION_SECONDS"`
	LockRetries         int `env:"LOCK_RETRIES"`
	LockRetryIntervalMs int `env:"LOCK_RETRY_INTERVAL_MS"`

	QueueWorkers int `env:"QUEUE_WORKERS"`
}

func (cfg *Config) applyDefaults() {
	if cfg.OutboxBatchSize <= 0 {
		cfg.OutboxBatchSize = 50
	}

	if cfg.OutboxMaxAttempts <= 0 {
		cfg.OutboxMaxAttempts = 5
	}

	if cfg.OutboxBaseRetryDelaySeconds <= 0 {
		cfg.OutboxBaseRetryDelaySeconds = 60
	}

	if cfg.OutboxRetryMultiplier <= 0 {
		cfg.OutboxRetryMultiplier = 2
	}

	if cfg.OutboxMaxRetryDelaySeconds <= 0 {
		cfg.OutboxMaxRetryDelaySeconds = 3600
	}

	if cfg.OutboxProcessorInterval <= 0 {
		cfg.OutboxProcessorInterval = 30
	}

	if cfg.OutboxLockTimeoutSeconds <= 0 {
		cfg.OutboxLockTimeoutSeconds = 300
	}

	if cfg.OutboxDefaultGroup == "" {
		cfg.OutboxDefaultGroup = ApplicationName + "-outbox"
	}

	if cfg.OutboxMaxInProcessBytes <= 0 {
		cfg.OutboxMaxInProcessBytes = 50_000
	}

	if cfg.RunnerMaxExecutionSeconds <= 0 {
		cfg.RunnerMaxExecutionSeconds = 25
	}

	if cfg.RunnerMemoryLimitPercent <= 0 {
		cfg.RunnerMemoryLimitPercent = 80
	}

	if cfg.WorkflowMaxRetries <= 0 {
		cfg.WorkflowMaxRetries = 3
	}

	if cfg.WorkflowRescheduleInterval <= 0 {
		cfg.WorkflowRescheduleInterval = 5
	}

	if cfg.WorkflowForkDelaySeconds <= 0 {
		cfg.WorkflowForkDelaySeconds = 30
	}

	if cfg.LockDurationSeconds <= 0 {
		cfg.LockDurationSeconds = 30
	}

	if cfg.LockRetries <= 0 {
		cfg.LockRetries = 10
	}

	if cfg.LockRetryIntervalMs <= 0 {
		cfg.LockRetryIntervalMs = 1000
	}

	if cfg.QueueWorkers <= 0 {
		cfg.QueueWorkers = 4
	}
}

// InitService wires the whole reliability core for the worker process.
func InitService() *Service {
	cfg := &Config{}

	if err := pkg.SetConfigFromEnvVars(cfg); err != nil {
		panic(err)
	}

	cfg.applyDefaults()

	logger := mzap.InitializeLogger()

	postgresConnection := &mpostgres.PostgresConnection{
		ConnectionString: fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			cfg.PrimaryDBHost, cfg.PrimaryDBUser, cfg.PrimaryDBPassword, cfg.PrimaryDBName, cfg.PrimaryDBPort),
		DBName:         cfg.PrimaryDBName,
		MigrationsPath: "migrations",
		Logger:         logger,
	}

	rabbitConnection := &mrabbitmq.RabbitMQConnection{
		ConnectionStringSource: fmt.Sprintf("%s://%s:%s@%s:%s",
			cfg.RabbitURI, cfg.RabbitMQUser, cfg.RabbitMQPass, cfg.RabbitMQHost, cfg.RabbitMQPortAMQP),
		Exchange: cfg.RabbitMQExchange,
		Logger:   logger,
	}

	redisConnection := &mredis.RedisConnection{
		ConnectionStringSource: cfg.RedisURI,
		Logger:                 logger,
	}

	codec := payloads.Default()

	retryPolicy := pgoutbox.RetryPolicy{
		BaseDelay:  time.Duration(cfg.OutboxBaseRetryDelaySeconds) * time.Second,
		Multiplier: float64(cfg.OutboxRetryMultiplier),
		MaxDelay:   time.Duration(cfg.OutboxMaxRetryDelaySeconds) * time.Second,
	}

	outboxRepository := pgoutbox.NewOutboxPostgreSQLRepository(postgresConnection, retryPolicy)
	processRepository := pgprocess.NewProcessPostgreSQLRepository(postgresConnection)
	workflowRepository := pgworkflow.NewWorkflowPostgreSQLRepository(postgresConnection, codec)
	workItemRepository := pgworkitem.NewWorkItemPostgreSQLRepository(postgresConnection)
	auditRepository := pgaudit.NewAuditPostgreSQLRepository(postgresConnection)
	lockRepository := pglock.NewLockPostgreSQLRepository(postgresConnection)

	asyncQueue := redisadapter.NewQueueRedisRepository(redisConnection, ApplicationName)
	jobRegistry := queue.NewRegistry()

	producer := rmq.NewProducerRabbitMQ(rabbitConnection)
	externalSink := rmq.NewExternalEventSink(producer, cfg.RabbitMQExchange)

	router := processor.NewRouter(asyncQueue, externalSink, nil, processor.RouterConfig{
		JobPrefix:                  ApplicationName,
		DefaultGroup:               cfg.OutboxDefaultGroup,
		MaxInProcessBytes:          cfg.OutboxMaxInProcessBytes,
		RouteLargePayloadsExternal: cfg.OutboxRouteLargeExternal,
	})

	outboxProcessor := processor.NewProcessor(outboxRepository, router, processor.Config{
		BatchSize: cfg.OutboxBatchSize,
		LockTTL:   time.Duration(cfg.OutboxLockTimeoutSeconds) * time.Second,
	})

	outboxBus := processor.NewOutboxBus(outboxRepository, cfg.OutboxMaxAttempts)
	dispatcher := events.NewSubscriberMap()
	eventRouter := events.NewRouter(dispatcher, outboxBus)
	unitOfWork := events.NewUnitOfWork()

	db, err := postgresConnection.GetDB()
	if err != nil {
		panic("Failed to connect database")
	}

	commandBus := bus.NewCommandBus(
		bus.NewAuditMiddleware(auditRepository, unitOfWork, audit.SourceSystem, cfg.EnvName),
		bus.NewCorrelationMiddleware(),
		bus.NewTransactionMiddleware(db),
		bus.NewPublishMiddleware(unitOfWork, eventRouter),
	)

	runnerBudget := budget.New(
		time.Duration(cfg.RunnerMaxExecutionSeconds)*time.Second,
		float64(cfg.RunnerMemoryLimitPercent)/100,
		uint64(cfg.RunnerMemoryCapBytes),
	)

	definitions := longprocess.NewDefinitionRegistry()

	processRunner := longprocess.NewRunner(processRepository, definitions, codec, asyncQueue, commandBus, runnerBudget, longprocess.RunnerConfig{
		QueueGroup: cfg.OutboxDefaultGroup,
	})

	behaviourHandlers := behaviour.NewHandlerRegistry()

	workflowRunner := behaviour.NewRunner(workflowRepository, workItemRepository, behaviourHandlers, asyncQueue, runnerBudget, behaviour.RunnerConfig{
		MaxRetries:         cfg.WorkflowMaxRetries,
		RescheduleInterval: time.Duration(cfg.WorkflowRescheduleInterval) * time.Second,
		ForkDelay:          time.Duration(cfg.WorkflowForkDelaySeconds) * time.Second,
		QueueGroup:         cfg.OutboxDefaultGroup,
	})

	lockManager := lock.NewManager(redisConnection, lockRepository, lock.Config{
		Duration:      time.Duration(cfg.LockDurationSeconds) * time.Second,
		Retries:       cfg.LockRetries,
		RetryInterval: time.Duration(cfg.LockRetryIntervalMs) * time.Millisecond,
	})

	jobRegistry.Register(longprocess.ContinuationJobName, func(ctx context.Context, payload map[string]any) error {
		processID, _ := payload["process_id"].(string)
		return processRunner.ContinueScheduled(ctx, processID)
	})

	jobRegistry.Register(behaviour.RescheduleJobName, func(ctx context.Context, payload map[string]any) error {
		workflowID, _ := payload["workflow_id"].(string)
		return workflowRunner.ContinueWorkflow(ctx, workflowID)
	})

	outboxWorker := NewOutboxWorker(outboxProcessor, outboxRepository, lockRepository, logger,
		time.Duration(cfg.OutboxProcessorInterval)*time.Second)

	queueWorker := NewQueueWorker(asyncQueue, jobRegistry, logger, []string{cfg.OutboxDefaultGroup}, cfg.QueueWorkers)

	return &Service{
		OutboxWorker:       outboxWorker,
		QueueWorker:        queueWorker,
		CommandBus:         commandBus,
		QueryBus:           bus.NewQueryBus(),
		EventRouter:        eventRouter,
		UnitOfWork:         unitOfWork,
		ProcessRunner:      processRunner,
		ProcessDefinitions: definitions,
		WorkflowRunner:     workflowRunner,
		BehaviourHandlers:  behaviourHandlers,
		LockManager:        lockManager,
		JobRegistry:        jobRegistry,
		Logger:             logger,
	}
}
