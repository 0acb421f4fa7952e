// Package mongostore is a [persist.Backend] on MongoDB.
//
// Entities and links are stored as one document each in the "entities" and
// "links" collections. Position batches are a single unordered bulk write.
// Change notifications use a database change stream, which requires a replica
// set; every document records the instance that last wrote it so a store can
// skip its own echoes.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/persist"
	"github.com/leanspace/flowboard/pkg/store"
)

const (
	entitiesCollection = "entities"
	linksCollection    = "links"
)

// Config configures a MongoDB store.
type Config struct {
	URI      string // default mongodb://localhost:27017
	Database string // default "flowboard"
	Logger   *log.Logger
}

// Store is a MongoDB-backed board.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	instance string
	logger   *log.Logger
}

var (
	_ persist.Backend  = (*Store)(nil)
	_ persist.Notifier = (*Store)(nil)
)

// Open connects to MongoDB and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return New(client, cfg), nil
}

// New wraps an existing client.
func New(client *mongo.Client, cfg Config) *Store {
	if cfg.Database == "" {
		cfg.Database = "flowboard"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		client:   client,
		db:       client.Database(cfg.Database),
		instance: uuid.NewString(),
		logger:   logger,
	}
}

// =============================================================================
// Documents
// =============================================================================

// entityRecord is the decoded form of an entity document. The position stays
// raw so a malformed value degrades to an unplaced entity.
type entityRecord struct {
	ID       string         `bson:"_id"`
	Region   graph.Region   `bson:"region"`
	Kind     graph.Kind     `bson:"kind"`
	Position bson.RawValue  `bson:"position"`
	Title    string         `bson:"title"`
	Status   graph.Status   `bson:"status"`
	Size     float64        `bson:"size"`
	Metadata map[string]any `bson:"metadata"`
	Writer   string         `bson:"writer"`
}

func (r entityRecord) entity() graph.Entity {
	e := graph.Entity{
		ID:       r.ID,
		Region:   r.Region,
		Kind:     r.Kind,
		Title:    r.Title,
		Status:   r.Status,
		Size:     r.Size,
		Metadata: r.Metadata,
		Position: graph.Unplaced(),
	}
	if p, ok := positionFromRaw(r.Position); ok {
		e.Position = p
	}
	return e
}

func entityDocument(e graph.Entity, writer string) bson.D {
	doc := bson.D{
		{Key: "_id", Value: e.ID},
		{Key: "region", Value: e.Region},
		{Key: "kind", Value: e.Kind},
		{Key: "position", Value: positionDocument(e.Position)},
		{Key: "writer", Value: writer},
	}
	if e.Title != "" {
		doc = append(doc, bson.E{Key: "title", Value: e.Title})
	}
	if e.Status != "" {
		doc = append(doc, bson.E{Key: "status", Value: e.Status})
	}
	if e.Size != 0 {
		doc = append(doc, bson.E{Key: "size", Value: e.Size})
	}
	if len(e.Metadata) > 0 {
		doc = append(doc, bson.E{Key: "metadata", Value: e.Metadata})
	}
	return doc
}

type linkRecord struct {
	graph.Link `bson:",inline"`
	Writer     string `bson:"writer,omitempty"`
}

func positionDocument(p graph.Position) bson.D {
	return bson.D{{Key: "x", Value: p.X}, {Key: "y", Value: p.Y}}
}

// positionFromRaw validates a stored position through its relaxed extended
// JSON form, so BSON and JSON backends accept the same shapes.
func positionFromRaw(v bson.RawValue) (graph.Position, bool) {
	doc, ok := v.DocumentOK()
	if !ok {
		return graph.Position{}, false
	}
	data, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return graph.Position{}, false
	}
	return graph.ParsePosition(data)
}

// =============================================================================
// Backend
// =============================================================================

// Load implements persist.Backend.
func (s *Store) Load(ctx context.Context) (graph.Graph, error) {
	var g graph.Graph

	cur, err := s.db.Collection(entitiesCollection).Find(ctx, bson.D{})
	if err != nil {
		return g, classify(fmt.Errorf("load entities: %w", err))
	}
	var records []entityRecord
	if err := cur.All(ctx, &records); err != nil {
		return g, classify(fmt.Errorf("load entities: %w", err))
	}
	for _, r := range records {
		g.Entities = append(g.Entities, r.entity())
	}

	cur, err = s.db.Collection(linksCollection).Find(ctx, bson.D{})
	if err != nil {
		return g, classify(fmt.Errorf("load links: %w", err))
	}
	var links []linkRecord
	if err := cur.All(ctx, &links); err != nil {
		return g, classify(fmt.Errorf("load links: %w", err))
	}
	for _, l := range links {
		g.Links = append(g.Links, l.Link)
	}
	g.Sort()
	return g, nil
}

// SaveEntity implements persist.Backend. Virtual entities are ignored.
func (s *Store) SaveEntity(ctx context.Context, e graph.Entity) error {
	if e.Virtual {
		return nil
	}
	_, err := s.db.Collection(entitiesCollection).ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: e.ID}},
		entityDocument(e, s.instance),
		options.Replace().SetUpsert(true))
	if err != nil {
		return classify(fmt.Errorf("save entity %s: %w", e.ID, err))
	}
	return nil
}

// DeleteEntity implements persist.Backend.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	if _, err := s.db.Collection(entitiesCollection).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return classify(fmt.Errorf("delete entity %s: %w", id, err))
	}
	return nil
}

// SaveLink implements persist.Backend. Synthetic links are ignored.
func (s *Store) SaveLink(ctx context.Context, l graph.Link) error {
	if l.Synthetic {
		return nil
	}
	_, err := s.db.Collection(linksCollection).ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: l.ID}},
		linkRecord{Link: l, Writer: s.instance},
		options.Replace().SetUpsert(true))
	if err != nil {
		return classify(fmt.Errorf("save link %s: %w", l.ID, err))
	}
	return nil
}

// DeleteLink implements persist.Backend.
func (s *Store) DeleteLink(ctx context.Context, id string) error {
	if _, err := s.db.Collection(linksCollection).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return classify(fmt.Errorf("delete link %s: %w", id, err))
	}
	return nil
}

// WritePositions implements persist.Backend. Updates for unknown ids match
// nothing and are dropped by the server.
func (s *Store) WritePositions(ctx context.Context, updates []graph.PositionUpdate) error {
	models := positionModels(updates, s.instance)
	if len(models) == 0 {
		return nil
	}
	_, err := s.db.Collection(entitiesCollection).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return classify(fmt.Errorf("write %d positions: %w", len(models), err))
	}
	return nil
}

func positionModels(updates []graph.PositionUpdate, writer string) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		if !u.Position.Finite() {
			continue
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "_id", Value: u.ID}}).
			SetUpdate(bson.D{{Key: "$set", Value: bson.D{
				{Key: "position", Value: positionDocument(u.Position)},
				{Key: "writer", Value: writer},
			}}}))
	}
	return models
}

// Close implements persist.Backend.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// =============================================================================
// Notifier
// =============================================================================

type changeEvent struct {
	OperationType string `bson:"operationType"`
	Namespace     struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument bson.Raw `bson:"fullDocument"`
}

// change converts a change stream event. Events written by this instance are
// dropped. Deletes carry no writer and are always relayed; deleting an absent
// id is a no-op for the store. Entities with a missing or malformed position
// are relayed unplaced; the store keeps a known position and the simulation
// places new ones at their region fallback.
func (s *Store) change(ev changeEvent) (store.Change, bool) {
	c := store.Change{Origin: persist.OriginRemote}
	switch ev.OperationType {
	case "delete":
		if ev.DocumentKey.ID == "" {
			return c, false
		}
		c.ID = ev.DocumentKey.ID
		switch ev.Namespace.Coll {
		case entitiesCollection:
			c.Op = store.OpDeleteEntity
		case linksCollection:
			c.Op = store.OpDeleteLink
		default:
			return c, false
		}
		return c, true
	case "insert", "update", "replace":
	default:
		return c, false
	}
	if len(ev.FullDocument) == 0 {
		return c, false
	}
	switch ev.Namespace.Coll {
	case entitiesCollection:
		var r entityRecord
		if err := bson.Unmarshal(ev.FullDocument, &r); err != nil {
			s.logger.Warn("dropping undecodable entity change", "err", err)
			return c, false
		}
		if r.Writer == s.instance {
			return c, false
		}
		c.Op = store.OpUpsertEntity
		c.Entity = r.entity()
	case linksCollection:
		var r linkRecord
		if err := bson.Unmarshal(ev.FullDocument, &r); err != nil {
			s.logger.Warn("dropping undecodable link change", "err", err)
			return c, false
		}
		if r.Writer == s.instance {
			return c, false
		}
		c.Op = store.OpUpsertLink
		c.Link = r.Link
	default:
		return c, false
	}
	return c, true
}

// Subscribe implements persist.Notifier.
func (s *Store) Subscribe(ctx context.Context) (<-chan store.Change, error) {
	cs, err := s.db.Watch(ctx, mongo.Pipeline{},
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", s.db.Name(), err)
	}
	out := make(chan store.Change, 64)
	go func() {
		defer close(out)
		defer func() { _ = cs.Close(context.Background()) }()
		for cs.Next(ctx) {
			var ev changeEvent
			if err := cs.Decode(&ev); err != nil {
				s.logger.Warn("dropping undecodable change event", "err", err)
				continue
			}
			c, ok := s.change(ev)
			if !ok {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if err := cs.Err(); err != nil && ctx.Err() == nil {
			s.logger.Error("change stream ended", "err", err)
		}
	}()
	return out, nil
}

// classify marks network errors and timeouts as retryable.
func classify(err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return persist.Retryable(err)
	}
	return err
}
