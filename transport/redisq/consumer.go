package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"jarpc/codec"
	"jarpc/manager"
	"jarpc/tasks"
)

// Consumer feeds queued requests to a Manager.
type Consumer struct {
	rdb      redis.UniversalClient
	queue    string
	mgr      *manager.Manager
	log      zerolog.Logger
	workers  int
	poll     time.Duration
	replyTTL time.Duration
}

// ConsumerOptions tune a Consumer. Zero values take defaults.
type ConsumerOptions struct {
	Workers  int           // concurrent pops, default 4
	Poll     time.Duration // BLPOP timeout, bounds shutdown latency; default 1s
	ReplyTTL time.Duration // expiry of reply lists, default 1m
	Log      zerolog.Logger
}

func NewConsumer(rdb redis.UniversalClient, queue string, mgr *manager.Manager, opts ConsumerOptions) *Consumer {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Poll <= 0 {
		opts.Poll = time.Second
	}
	if opts.ReplyTTL <= 0 {
		opts.ReplyTTL = time.Minute
	}
	return &Consumer{
		rdb:      rdb,
		queue:    queue,
		mgr:      mgr,
		log:      opts.Log,
		workers:  opts.Workers,
		poll:     opts.Poll,
		replyTTL: opts.ReplyTTL,
	}
}

// Run pops requests until ctx ends. It returns nil on cancellation and the
// first Redis failure otherwise.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		g.Go(func() error { return c.work(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Consumer) work(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := c.rdb.BLPop(ctx, c.poll, c.queue).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		// res is [key, value].
		c.handle(ctx, []byte(res[1]))
	}
}

func (c *Consumer) handle(ctx context.Context, raw []byte) {
	var it item
	if err := json.Unmarshal(raw, &it); err != nil {
		c.log.Warn().Err(err).Str("queue", c.queue).Msg("dropping malformed queue item")
		return
	}
	cdc, err := codec.ByName(it.Codec)
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping queue item")
		return
	}

	out, err := c.mgr.HandleCodec(ctx, cdc, it.Body)
	if errors.Is(err, tasks.ErrFull) {
		c.log.Warn().Err(err).Msg("fire-and-forget request dropped")
	} else if err != nil && !errors.Is(err, tasks.ErrClosed) {
		c.log.Debug().Err(err).Msg("request not answered")
	}
	if it.ReplyTo == "" {
		return
	}
	// An empty reply tells the producer no response is due.
	if out == nil {
		out = []byte{}
	}
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, it.ReplyTo, out)
	pipe.Expire(ctx, it.ReplyTo, c.replyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Str("reply_to", it.ReplyTo).Msg("cannot push reply")
	}
}
