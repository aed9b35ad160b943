package cli

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/turtacn/telemos/internal/archive"
	"github.com/turtacn/telemos/internal/bus"
	"github.com/turtacn/telemos/internal/config"
	"github.com/turtacn/telemos/internal/dictionary"
	"github.com/turtacn/telemos/internal/featureset"
	"github.com/turtacn/telemos/internal/input"
	"github.com/turtacn/telemos/internal/sclk"
	"github.com/turtacn/telemos/internal/session"
	"github.com/turtacn/telemos/pkg/errors"
	"github.com/turtacn/telemos/pkg/protocol"
)

// runtime holds what one command invocation builds from its files.
type runtime struct {
	cfg     *protocol.Config
	ctx     *protocol.ContextConfig
	props   *config.Properties
	bus     bus.Bus
	sockets *input.SocketManager
}

func loadRuntime(cfgPath, ctxPath string) (*runtime, error) {
	cfg, err := protocol.LoadConfig(cfgPath)
	if err != nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "LoadConfig", cfgPath, err)
	}
	ctx, err := protocol.LoadContext(ctxPath)
	if err != nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "LoadContext", ctxPath, err)
	}
	if ctx.Key == "" {
		ctx.Key = uuid.NewString()
	}
	props, err := config.LoadLayers(cfg.Properties.Files()...)
	if err != nil {
		return nil, err
	}
	b, err := newBus(cfg.Bus)
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, ctx: ctx, props: props, bus: b, sockets: input.NewSocketManager()}, nil
}

func newBus(c protocol.BusConfig) (bus.Bus, error) {
	switch c.Type {
	case "", "memory":
		return bus.NewMemory(), nil
	case "nats":
		b, err := bus.DialNATS(c.URL, c.RootTopic)
		if err != nil {
			return nil, errors.New(errors.ErrCodeMessageBus, "DialNATS", c.URL, err)
		}
		return b, nil
	default:
		return nil, errors.New(errors.ErrCodeConfigInvalid, "newBus", "unknown bus type "+c.Type, nil)
	}
}

func (r *runtime) archivePath() string {
	if r.cfg.Archive.Path != "" {
		return r.cfg.Archive.Path
	}
	return filepath.Join(r.ctx.OutputDir, "telemos.db")
}

// options assembles the session options for app. It fails when the
// archive directory cannot be created.
func (r *runtime) options(app featureset.App) (session.Options, error) {
	s := r.cfg.Session
	opts := session.Options{
		Context:                 r.ctx,
		Features:                featureset.Load(r.props, config.LoadMission(r.props), app),
		Bus:                     r.bus,
		Dictionaries:            dictionary.FileLoader{Dir: r.cfg.Dictionary.Directory},
		Clock:                   sclk.DirProvider{Dir: r.cfg.Sclk.Directory},
		UseDatabase:             r.cfg.Archive.UseDatabase,
		UseMessaging:            r.cfg.Bus.UseMessaging,
		HeartbeatInterval:       s.HeartbeatInterval,
		SummaryInterval:         s.SummaryInterval,
		ShutdownSummaryInterval: s.ShutdownSummaryInterval,
		MeterInterval:           s.MeterInterval,
		RemoteDb:                &input.RemoteDbFlag{},
	}
	if opts.UseDatabase {
		path := r.archivePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return session.Options{}, errors.New(errors.ErrCodeArchive, "options", "create "+filepath.Dir(path), err)
		}
		opts.Archive = archive.NewSQLite(path, r.bus, r.ctx)
	}
	if app == featureset.AppDownlink {
		opts.NewInput = func(it input.TelemetryInputType) input.Service {
			return input.NewStreamService(r.ctx.Connection, it, r.bus, r.ctx.Number, input.StreamOptions{Sockets: r.sockets})
		}
	}
	return opts, nil
}

func (r *runtime) close() {
	r.sockets.Close()
	r.bus.Close()
}

// Personal.AI order the ending
