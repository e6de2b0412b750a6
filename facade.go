package banklink

import (
	"fmt"

	"github.com/goliatone/go-banklink/adapters/gocommand"
	banklinkcommand "github.com/goliatone/go-banklink/command"
)

// CommandService is the surface the command handlers mutate through. The
// bank-link Service satisfies it.
type CommandService interface {
	banklinkcommand.MutatingService
}

type Commands struct {
	Connect          *banklinkcommand.ConnectCommand
	CompleteCallback *banklinkcommand.CompleteCallbackCommand
	Sync             *banklinkcommand.SyncCommand
	EnqueueSync      *banklinkcommand.EnqueueSyncCommand
	Disconnect       *banklinkcommand.DisconnectCommand
}

// Facade bundles the command handlers around a single service so hosts can
// register them with a dispatcher in one step.
type Facade struct {
	service  CommandService
	commands Commands
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	syncService banklinkcommand.SyncService
}

// WithSyncRunner supplies the reconciler that backs the inline sync command.
// Without it the sync command reports a missing dependency on execute.
func WithSyncRunner(runner banklinkcommand.SyncService) FacadeOption {
	return func(options *facadeOptions) {
		options.syncService = runner
	}
}

func NewFacade(service CommandService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("banklink: command service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	syncer := cfg.syncService
	if syncer == nil {
		if runner, ok := service.(banklinkcommand.SyncService); ok {
			syncer = runner
		}
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Connect:          banklinkcommand.NewConnectCommand(service),
		CompleteCallback: banklinkcommand.NewCompleteCallbackCommand(service),
		Sync:             banklinkcommand.NewSyncCommand(syncer),
		EnqueueSync:      banklinkcommand.NewEnqueueSyncCommand(service),
		Disconnect:       banklinkcommand.NewDisconnectCommand(service),
	}
	return facade, nil
}

// Subscribe registers every command handler with the registry adapter and
// wires it into the dispatcher. On a partial failure the subscriptions made
// so far are torn down before the error is returned.
func (f *Facade) Subscribe(adapter *gocommand.RegistryAdapter) ([]gocommand.Subscription, error) {
	if f == nil {
		return nil, fmt.Errorf("banklink: facade is nil")
	}
	if adapter == nil {
		return nil, fmt.Errorf("banklink: registry adapter is required")
	}

	wire := []func() (gocommand.Subscription, error){
		func() (gocommand.Subscription, error) { return gocommand.RegisterAndSubscribe(adapter, f.commands.Connect) },
		func() (gocommand.Subscription, error) {
			return gocommand.RegisterAndSubscribe(adapter, f.commands.CompleteCallback)
		},
		func() (gocommand.Subscription, error) { return gocommand.RegisterAndSubscribe(adapter, f.commands.Sync) },
		func() (gocommand.Subscription, error) {
			return gocommand.RegisterAndSubscribe(adapter, f.commands.EnqueueSync)
		},
		func() (gocommand.Subscription, error) {
			return gocommand.RegisterAndSubscribe(adapter, f.commands.Disconnect)
		},
	}

	subscriptions := make([]gocommand.Subscription, 0, len(wire))
	for _, subscribe := range wire {
		subscription, err := subscribe()
		if err != nil {
			Unsubscribe(subscriptions)
			return nil, err
		}
		subscriptions = append(subscriptions, subscription)
	}
	return subscriptions, nil
}

// Unsubscribe tears down the dispatcher routes returned by Subscribe.
func Unsubscribe(subscriptions []gocommand.Subscription) {
	for _, subscription := range subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Service() CommandService {
	if f == nil {
		return nil
	}
	return f.service
}
