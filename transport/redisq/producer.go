package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"jarpc/codec"
	"jarpc/rpcerr"
)

// DefaultWait bounds how long RoundTrip waits when ctx has no deadline.
const DefaultWait = 30 * time.Second

// Producer pushes requests onto a queue. It satisfies the client transport
// contract.
type Producer struct {
	rdb   redis.UniversalClient
	queue string
	codec codec.Codec
}

// NewProducer pushes to queue, encoding with c (JSON when nil).
func NewProducer(rdb redis.UniversalClient, queue string, c codec.Codec) *Producer {
	if c == nil {
		c = codec.GetCodec(codec.CodecTypeJSON)
	}
	return &Producer{rdb: rdb, queue: queue, codec: c}
}

func (p *Producer) Codec() codec.Codec { return p.codec }

// RoundTrip queues raw. With rsvp it waits on a private reply list until a
// response arrives or ctx ends; an empty reply is returned as nil.
func (p *Producer) RoundTrip(ctx context.Context, raw []byte, rsvp bool) ([]byte, error) {
	it := item{Codec: p.codec.Type().String(), Body: raw}
	if rsvp {
		it.ReplyTo = p.queue + ":reply:" + uuid.NewString()
	}
	payload, err := json.Marshal(it)
	if err != nil {
		return nil, err
	}
	if err := p.rdb.RPush(ctx, p.queue, payload).Err(); err != nil {
		return nil, rpcerr.ExternalServiceUnavailable(err.Error())
	}
	if !rsvp {
		return nil, nil
	}

	wait := DefaultWait
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
		if wait <= 0 {
			return nil, rpcerr.Timeout("deadline passed before reply")
		}
	}
	res, err := p.rdb.BLPop(ctx, wait, it.ReplyTo).Result()
	if err != nil {
		// A blocked read may end on the ctx deadline with a network error.
		var ne net.Error
		if errors.Is(err, redis.Nil) || errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			return nil, rpcerr.Timeout("no reply on " + it.ReplyTo)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, rpcerr.ExternalServiceUnavailable(err.Error())
	}
	if len(res[1]) == 0 {
		return nil, nil
	}
	return []byte(res[1]), nil
}
