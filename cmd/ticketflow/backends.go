package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	resultmongo "goa.design/ticketflow/features/result/mongo"
	clientsmongo "goa.design/ticketflow/features/result/mongo/clients/mongo"
	"goa.design/ticketflow/features/result/replicated"
	"goa.design/ticketflow/features/result/sqlite"
	streampulse "goa.design/ticketflow/features/stream/pulse"
	clientspulse "goa.design/ticketflow/features/stream/pulse/clients/pulse"
	"goa.design/ticketflow/runtime/result"
	"goa.design/ticketflow/runtime/result/fs"
	resultinmem "goa.design/ticketflow/runtime/result/inmem"
	"goa.design/ticketflow/runtime/stream"
)

const (
	resultsMapName = "ticketflow-results"
	fanInStream    = "sessions"
)

type (
	// healthStore is a result store that can report its health.
	healthStore interface {
		result.Store
		health.Pinger
	}

	// backends opens the storage and transport clients selected by settings
	// and releases them on close.
	backends struct {
		cfg     settings
		redis   *redis.Client
		checks  []health.Pinger
		closers []func(context.Context) error
	}

	redisPinger struct {
		rdb *redis.Client
	}
)

func newBackends(cfg settings) *backends {
	return &backends{cfg: cfg}
}

func (b *backends) openStore(ctx context.Context) (healthStore, error) {
	var (
		s   healthStore
		err error
	)
	switch b.cfg.store {
	case "fs":
		s, err = fs.New(fs.Options{Root: b.cfg.dataDir})
	case "memory":
		s = resultinmem.New()
	case "sqlite":
		var st *sqlite.Store
		st, err = sqlite.Open(ctx, sqlite.Options{Path: b.cfg.sqlitePath})
		if err == nil {
			b.closers = append(b.closers, func(context.Context) error { return st.Close() })
			s = st
		}
	case "mongo":
		s, err = b.openMongo(ctx)
	case "replicated":
		s, err = b.openReplicated(ctx)
	default:
		return nil, fmt.Errorf("unknown store %q", b.cfg.store)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", b.cfg.store, err)
	}
	b.checks = append(b.checks, s)
	return s, nil
}

func (b *backends) openMongo(ctx context.Context) (healthStore, error) {
	cli, err := mongodriver.Connect(options.Client().ApplyURI(b.cfg.mongoURI))
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, cli.Disconnect)
	if err := cli.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return resultmongo.NewStoreFromMongo(clientsmongo.Options{
		Client:   cli,
		Database: b.cfg.mongoDB,
	})
}

func (b *backends) openReplicated(ctx context.Context) (healthStore, error) {
	rdb, err := b.redisClient(ctx)
	if err != nil {
		return nil, err
	}
	m, err := rmap.Join(ctx, resultsMapName, rdb)
	if err != nil {
		return nil, fmt.Errorf("join results map: %w", err)
	}
	b.closers = append(b.closers, func(context.Context) error {
		m.Close()
		return nil
	})
	return replicated.New(m)
}

func (b *backends) openStream() (stream.Sink, error) {
	switch b.cfg.stream {
	case "none", "":
		return stream.NoopSink{}, nil
	case "pulse":
		rdb, err := b.redisClient(context.Background())
		if err != nil {
			return nil, err
		}
		cli, err := clientspulse.New(clientspulse.Options{Redis: rdb, StreamMaxLen: b.cfg.streamMaxLen})
		if err != nil {
			return nil, err
		}
		sink, err := streampulse.NewSink(streampulse.Options{Client: cli, FanIn: fanInStream})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, sink.Close)
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown stream %q", b.cfg.stream)
	}
}

// redisClient connects to Redis on first use.
func (b *backends) redisClient(ctx context.Context) (*redis.Client, error) {
	if b.redis != nil {
		return b.redis, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     b.cfg.redisURL,
		Password: b.cfg.redisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	b.redis = rdb
	b.checks = append(b.checks, redisPinger{rdb: rdb})
	return rdb, nil
}

func (b *backends) pingers() []health.Pinger {
	return b.checks
}

// close releases everything opened so far, newest first. The Redis
// connection goes last since the map and the sink use it.
func (b *backends) close(ctx context.Context) {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i](ctx))
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	if err := errors.Join(errs...); err != nil {
		log.Errorf(ctx, err, "closing backends")
	}
}

func (p redisPinger) Name() string {
	return "redis"
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}
