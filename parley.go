// Package parley assembles the store, model provider, roster and coordinator
// into one entry point for embedding the conversation backbone in a host
// application.
package parley

import (
	"context"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/habiliai/parley/config"
	"github.com/habiliai/parley/coordinator"
	"github.com/habiliai/parley/entity"
	"github.com/habiliai/parley/errors"
	"github.com/habiliai/parley/internal/mylog"
	"github.com/habiliai/parley/org"
	"github.com/habiliai/parley/provider"
	providerAnthropic "github.com/habiliai/parley/provider/anthropic"
	providerOpenAI "github.com/habiliai/parley/provider/openai"
	"github.com/habiliai/parley/session"
	"github.com/habiliai/parley/store"
)

type (
	Parley struct {
		logger *slog.Logger
		store  store.Store
		model  provider.Model
		roster *org.Roster

		logConfig      *config.LogConfig
		databaseConfig *config.DatabaseConfig
		modelConfig    *config.ModelConfig

		rosterFile string
	}
	Option func(*Parley)
)

func (p *Parley) Store() store.Store { return p.store }

func (p *Parley) Model() provider.Model { return p.model }

func (p *Parley) Logger() *slog.Logger { return p.logger }

func (p *Parley) Roster() *org.Roster { return p.roster }

// Session spawns a session for one agent on one thread.
func (p *Parley) Session(ctx context.Context, agentID, threadID string, opts ...session.Option) (*session.Session, error) {
	agent, ok := p.roster.Get(agentID)
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "agent %q is not in the roster", agentID)
	}

	opts = append([]session.Option{session.WithRoster(p.roster)}, opts...)
	return session.Spawn(ctx, p.store, p.model, p.logger, agent, threadID, opts...)
}

// Coordinator builds a coordinator over the given participants, which must
// all be roster members.
func (p *Parley) Coordinator(threadID string, participantIDs []string, opts ...session.Option) (*coordinator.Coordinator, error) {
	participants := p.roster.Subset(participantIDs)
	if len(participants) != len(participantIDs) {
		return nil, errors.Wrapf(errors.ErrNotFound, "some participants are not in the roster")
	}

	opts = append([]session.Option{session.WithRoster(p.roster)}, opts...)
	return coordinator.New(p.store, p.model, p.logger, threadID, participants, opts...), nil
}

func New(ctx context.Context, optionFuncs ...Option) (*Parley, error) {
	p := &Parley{
		logConfig:      config.NewLogConfig(),
		databaseConfig: config.NewDatabaseConfig(),
		modelConfig:    config.NewModelConfig(),
	}
	for _, f := range optionFuncs {
		f(p)
	}

	if p.logger == nil {
		p.logger = mylog.NewLogger(p.logConfig.LogLevel, p.logConfig.LogHandler)
	}

	if p.store == nil {
		st, err := store.NewStore(p.databaseConfig.DatabasePath, p.logger)
		if err != nil {
			return nil, err
		}
		p.store = st
	}

	if p.model == nil {
		model, err := newModel(p.modelConfig)
		if err != nil {
			return nil, err
		}
		p.model = model
	}

	if p.roster == nil {
		if p.rosterFile == "" {
			return nil, errors.New("a roster or roster file is required")
		}
		roster, err := org.LoadRosterFromFile(p.rosterFile)
		if err != nil {
			return nil, err
		}
		p.roster = roster
	}

	return p, nil
}

func newModel(conf *config.ModelConfig) (provider.Model, error) {
	switch conf.Provider {
	case "anthropic", "":
		return providerAnthropic.NewModel(func(o *providerAnthropic.Options) {
			o.APIKey = conf.AnthropicAPIKey
			if conf.Model != "" {
				o.Model = anthropic.Model(conf.Model)
			}
		}), nil
	case "openai":
		return providerOpenAI.NewModel(func(o *providerOpenAI.Options) {
			o.APIKey = conf.OpenAIAPIKey
			if conf.Model != "" {
				o.Model = conf.Model
			}
		}), nil
	default:
		return nil, errors.Errorf("unknown model provider %q", conf.Provider)
	}
}

func WithLogger(logger *slog.Logger) func(p *Parley) {
	return func(p *Parley) {
		p.logger = logger
	}
}

func WithLogConfig(logConfig *config.LogConfig) func(p *Parley) {
	return func(p *Parley) {
		p.logConfig = logConfig
	}
}

func WithStore(st store.Store) func(p *Parley) {
	return func(p *Parley) {
		p.store = st
	}
}

func WithDatabasePath(dbPath string) func(p *Parley) {
	return func(p *Parley) {
		p.databaseConfig.DatabasePath = dbPath
	}
}

func WithModel(model provider.Model) func(p *Parley) {
	return func(p *Parley) {
		p.model = model
	}
}

func WithModelConfig(modelConfig *config.ModelConfig) func(p *Parley) {
	return func(p *Parley) {
		p.modelConfig = modelConfig
	}
}

func WithRoster(roster *org.Roster) func(p *Parley) {
	return func(p *Parley) {
		p.roster = roster
	}
}

func WithRosterFile(file string) func(p *Parley) {
	return func(p *Parley) {
		p.rosterFile = file
	}
}

func WithAgents(agents ...entity.Agent) func(p *Parley) {
	return func(p *Parley) {
		p.roster = org.NewRoster(agents)
	}
}
