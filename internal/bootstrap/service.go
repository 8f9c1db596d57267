package bootstrap

import (
	"github.com/AureliaStudio/conveyor/internal/behaviour"
	"github.com/AureliaStudio/conveyor/internal/bus"
	"github.com/AureliaStudio/conveyor/internal/events"
	"github.com/AureliaStudio/conveyor/internal/lock"
	"github.com/AureliaStudio/conveyor/internal/longprocess"
	"github.com/AureliaStudio/conveyor/internal/queue"
	"github.com/AureliaStudio/conveyor/pkg"
	"github.com/AureliaStudio/conveyor/pkg/mlog"
)

// Service is the application glue where we put all top level components to be used.
type Service struct {
	OutboxWorker       *OutboxWorker
	QueueWorker        *QueueWorker
	CommandBus         *bus.CommandBus
	QueryBus           *bus.QueryBus
	EventRouter        *events.Router
	UnitOfWork         *events.UnitOfWork
	ProcessRunner      *longprocess.Runner
	ProcessDefinitions *longprocess.Registry
	WorkflowRunner     *behaviour.Runner
	BehaviourHandlers  *behaviour.HandlerRegistry
	LockManager        *lock.Manager
	JobRegistry        *queue.Registry
	Logger             mlog.Logger
}

// Run starts the worker apps.
func (s *Service) Run() {
	pkg.NewLauncher(
		pkg.WithLogger(s.Logger),
		pkg.RunApp("Outbox Processor", s.OutboxWorker),
		pkg.RunApp("Queue Worker", s.QueueWorker),
	).Run()
}
