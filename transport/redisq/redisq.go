// Package redisq carries envelopes through Redis lists: producers push
// requests onto a shared queue, consumers pop them, run them through a
// Manager and push the response onto the reply list the producer named.
package redisq

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// item is one queued request.
type item struct {
	ReplyTo string `json:"reply_to,omitempty"` // empty for notifications
	Codec   string `json:"codec,omitempty"`    // codec.ByName name; empty means json
	Body    []byte `json:"body"`
}

// Connect opens a client for addr, which is either host:port or a
// redis:// or rediss:// URL with an optional /db path.
func Connect(addr string) (redis.UniversalClient, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	return redis.NewUniversalClient(opts), nil
}

func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	opts := &redis.UniversalOptions{Addrs: strings.Split(u.Host, ",")}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	switch u.Scheme {
	case "redis":
	case "rediss":
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	default:
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		db, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("redis: invalid db: %v", err)
		}
		opts.DB = db
	}
	return opts, nil
}
