package container

import (
	"github.com/tessera-ai/flowengine/common/bootstrap"
	"github.com/tessera-ai/flowengine/common/clients"
	"github.com/tessera-ai/flowengine/common/queue"
	"github.com/tessera-ai/flowengine/common/ratelimit"
	"github.com/tessera-ai/flowengine/common/repository"
	"github.com/tessera-ai/flowengine/engine"
	"github.com/tessera-ai/flowengine/engine/breaker"
	"github.com/tessera-ai/flowengine/engine/condition"
	"github.com/tessera-ai/flowengine/engine/dispatch"
	"github.com/tessera-ai/flowengine/engine/events"
	"github.com/tessera-ai/flowengine/engine/executor"
	"github.com/tessera-ai/flowengine/engine/nodes"
	"github.com/tessera-ai/flowengine/engine/parallel"
	"github.com/tessera-ai/flowengine/engine/recovery"
	"github.com/tessera-ai/flowengine/engine/resolver"
	"github.com/tessera-ai/flowengine/engine/services"
	"github.com/tessera-ai/flowengine/engine/waiter"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	Store       *repository.ExecutionRepository
	Waits       *waiter.Coordinator
	Engine      *engine.Engine
	Queue       queue.Queue
	RateLimiter *ratelimit.RateLimiter
}

// NewContainer initializes all engine collaborators once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config
	log := components.Logger

	store := repository.NewExecutionRepository(components.DB)

	gateway := clients.NewGatewayMessenger(clients.GatewayConfigFromEnv(), log)
	aiClient := services.NewOpenAIClient(&services.OpenAIOpts{
		APIKey:       cfg.AI.APIKey,
		BaseURL:      cfg.AI.BaseURL,
		DefaultModel: cfg.AI.DefaultModel,
		Logger:       log,
	})

	breakers := breaker.NewManager(breaker.Options{
		Threshold: uint32(cfg.Engine.BreakerThreshold),
		Window:    cfg.Engine.BreakerWindow,
		Cooldown:  cfg.Engine.BreakerCooldown,
		Probes:    uint32(cfg.Engine.BreakerProbes),
	}, log)

	evaluator := condition.NewEvaluator()
	waits := waiter.NewCoordinator(gateway, log)
	bridge := dispatch.NewBridge(gateway, log)

	registry := executor.NewRegistry(log)
	registry.Register(nodes.NewTriggerExecutor())
	registry.Register(nodes.NewVariableExecutor())
	registry.Register(nodes.NewDelayExecutor())
	registry.Register(nodes.NewLogExecutor())
	registry.Register(nodes.NewConditionExecutor(evaluator))
	registry.Register(nodes.NewTransformExecutor())
	registry.Register(nodes.NewAIExecutor(aiClient, breakers))
	registry.Register(nodes.NewHTTPExecutor(breakers))
	registry.Register(nodes.NewWaitExecutor(waits, cfg.Engine.WaitDefaultTimeout, cfg.Engine.WaitRetryLimit))
	for _, m := range nodes.MessageExecutors(bridge, breakers) {
		registry.Register(m)
	}

	flowEngine := engine.New(&engine.Opts{
		Registry:       registry,
		Resolver:       resolver.New(log),
		Recovery:       recovery.NewHandler(log),
		Parallel:       parallel.NewManager(cfg.Engine.MaxBranchesPerNode, cfg.Engine.MaxBranchesProcess, log),
		Waits:          waits,
		Condition:      evaluator,
		Sink:           events.NewRedisSink(components.Redis, log),
		Store:          store,
		Logger:         log,
		DefaultTimeout: cfg.Engine.DefaultTimeout,
	})

	return &Container{
		Components:  components,
		Store:       store,
		Waits:       waits,
		Engine:      flowEngine,
		Queue:       queue.NewMemoryQueue(log),
		RateLimiter: ratelimit.NewRateLimiter(components.RedisRaw, log),
	}, nil
}
