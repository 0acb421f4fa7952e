// Package redisstore is a [persist.Backend] on Redis that also publishes
// every write, so several flowboard servers can share one board.
//
// Entities and links live in two hashes keyed by id. Positions live in a
// third hash so the frequent position batches never rewrite whole entities.
// Changes are announced on a pub/sub channel; each store tags its messages
// with an instance id and ignores its own.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/persist"
	"github.com/leanspace/flowboard/pkg/store"
)

// Config configures a Redis store.
type Config struct {
	Addr     string // default localhost:6379
	Password string
	DB       int
	Prefix   string // key prefix, default "flowboard:"
	Logger   *log.Logger
}

// Store is a Redis-backed board.
type Store struct {
	client   *redis.Client
	keys     keys
	instance string
	logger   *log.Logger
}

var (
	_ persist.Backend  = (*Store)(nil)
	_ persist.Notifier = (*Store)(nil)
)

type keys struct {
	entities, links, positions, channel string
}

func newKeys(prefix string) keys {
	if prefix == "" {
		prefix = "flowboard:"
	}
	return keys{
		entities:  prefix + "entities",
		links:     prefix + "links",
		positions: prefix + "positions",
		channel:   prefix + "changes",
	}
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, cfg), nil
}

// New wraps an existing client.
func New(client *redis.Client, cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		client:   client,
		keys:     newKeys(cfg.Prefix),
		instance: uuid.NewString(),
		logger:   logger,
	}
}

// =============================================================================
// Backend
// =============================================================================

// Load implements persist.Backend.
func (s *Store) Load(ctx context.Context) (graph.Graph, error) {
	var g graph.Graph
	var entities, links, positions *redis.MapStringStringCmd
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		entities = p.HGetAll(ctx, s.keys.entities)
		links = p.HGetAll(ctx, s.keys.links)
		positions = p.HGetAll(ctx, s.keys.positions)
		return nil
	})
	if err != nil {
		return g, classify(fmt.Errorf("load board: %w", err))
	}
	for id, raw := range entities.Val() {
		e, err := graph.UnmarshalEntity([]byte(raw))
		if err != nil {
			s.logger.Warn("skipping undecodable entity", "id", id, "err", err)
			continue
		}
		e.ID = id
		if raw, ok := positions.Val()[id]; ok {
			if p, ok := graph.ParsePosition([]byte(raw)); ok {
				e.Position = p
			}
		}
		g.Entities = append(g.Entities, e)
	}
	for id, raw := range links.Val() {
		var l graph.Link
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			s.logger.Warn("skipping undecodable link", "id", id, "err", err)
			continue
		}
		l.ID = id
		g.Links = append(g.Links, l)
	}
	g.Sort()
	return g, nil
}

// SaveEntity implements persist.Backend. Virtual entities are ignored.
func (s *Store) SaveEntity(ctx context.Context, e graph.Entity) error {
	if e.Virtual {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entity %s: %w", e.ID, err)
	}
	pos, _ := json.Marshal(e.Position)
	return s.write(ctx, event{Op: store.OpUpsertEntity, Entity: &e}, func(p redis.Pipeliner) {
		p.HSet(ctx, s.keys.entities, e.ID, data)
		p.HSet(ctx, s.keys.positions, e.ID, pos)
	})
}

// DeleteEntity implements persist.Backend.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	return s.write(ctx, event{Op: store.OpDeleteEntity, ID: id}, func(p redis.Pipeliner) {
		p.HDel(ctx, s.keys.entities, id)
		p.HDel(ctx, s.keys.positions, id)
	})
}

// SaveLink implements persist.Backend. Synthetic links are ignored.
func (s *Store) SaveLink(ctx context.Context, l graph.Link) error {
	if l.Synthetic {
		return nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode link %s: %w", l.ID, err)
	}
	return s.write(ctx, event{Op: store.OpUpsertLink, Link: &l}, func(p redis.Pipeliner) {
		p.HSet(ctx, s.keys.links, l.ID, data)
	})
}

// DeleteLink implements persist.Backend.
func (s *Store) DeleteLink(ctx context.Context, id string) error {
	return s.write(ctx, event{Op: store.OpDeleteLink, ID: id}, func(p redis.Pipeliner) {
		p.HDel(ctx, s.keys.links, id)
	})
}

// WritePositions implements persist.Backend.
func (s *Store) WritePositions(ctx context.Context, updates []graph.PositionUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	values := make(map[string]any, len(updates))
	for _, u := range updates {
		data, err := json.Marshal(u.Position)
		if err != nil {
			return fmt.Errorf("encode position of %s: %w", u.ID, err)
		}
		values[u.ID] = data
	}
	return s.write(ctx, event{Op: store.OpPositions, Positions: updates}, func(p redis.Pipeliner) {
		p.HSet(ctx, s.keys.positions, values)
	})
}

// Close implements persist.Backend.
func (s *Store) Close() error { return s.client.Close() }

// write runs cmds in a MULTI block together with the change announcement.
func (s *Store) write(ctx context.Context, ev event, cmds func(redis.Pipeliner)) error {
	ev.Source = s.instance
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		cmds(p)
		p.Publish(ctx, s.keys.channel, msg)
		return nil
	})
	if err != nil {
		return classify(fmt.Errorf("redis %s: %w", ev.Op, err))
	}
	return nil
}

// =============================================================================
// Notifier
// =============================================================================

// event is the pub/sub wire form of a store change.
type event struct {
	Source    string                 `json:"source"`
	Op        store.Op               `json:"op"`
	Entity    *graph.Entity          `json:"entity,omitempty"`
	Link      *graph.Link            `json:"link,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Positions []graph.PositionUpdate `json:"positions,omitempty"`
}

func (ev event) change() (store.Change, bool) {
	c := store.Change{Op: ev.Op, ID: ev.ID, Origin: persist.OriginRemote}
	switch ev.Op {
	case store.OpUpsertEntity:
		if ev.Entity == nil || ev.Entity.Virtual {
			return c, false
		}
		c.Entity = *ev.Entity
	case store.OpUpsertLink:
		if ev.Link == nil || ev.Link.Synthetic {
			return c, false
		}
		c.Link = *ev.Link
	case store.OpPositions:
		c.Positions = slices.DeleteFunc(ev.Positions, func(u graph.PositionUpdate) bool { return !u.Position.Finite() })
		if len(c.Positions) == 0 {
			return c, false
		}
	case store.OpDeleteEntity, store.OpDeleteLink:
		if ev.ID == "" {
			return c, false
		}
	default:
		return c, false
	}
	return c, true
}

// decodeEvent parses a pub/sub payload, dropping this instance's own echoes.
func (s *Store) decodeEvent(payload string) (store.Change, bool) {
	var ev event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		s.logger.Warn("dropping undecodable change", "err", err)
		return store.Change{}, false
	}
	if ev.Source == s.instance {
		return store.Change{}, false
	}
	return ev.change()
}

// Subscribe implements persist.Notifier.
func (s *Store) Subscribe(ctx context.Context) (<-chan store.Change, error) {
	sub := s.client.Subscribe(ctx, s.keys.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.keys.channel, err)
	}
	out := make(chan store.Change, 64)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				c, ok := s.decodeEvent(m.Payload)
				if !ok {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// classify marks connection-level failures as retryable.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return persist.Retryable(err)
	}
	return err
}
