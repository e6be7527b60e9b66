package documents

import (
	"context"

	"github.com/juju/errors"
	"github.com/seventv/presence/internal/svc/presences"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const DefaultCollection = "status"

var _ presences.Sink = (*Store)(nil)

type Options struct {
	URI        string
	Username   string
	Password   string
	DB         string
	Collection string
	Direct     bool
}

// Store keeps one status document per identity.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func New(ctx context.Context, opt Options) (*Store, error) {
	clientOpts := options.Client().ApplyURI(opt.URI).SetDirect(opt.Direct)
	if opt.Username != "" {
		clientOpts.SetAuth(options.Credential{
			Username: opt.Username,
			Password: opt.Password,
		})
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errors.Annotate(err, "mongo connect")
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())

		return nil, errors.Annotate(err, "mongo ping")
	}

	coll := opt.Collection
	if coll == "" {
		coll = DefaultCollection
	}

	zap.S().Infow("mongo, connected",
		"db", opt.DB,
		"collection", coll,
	)

	return &Store{
		client: client,
		coll:   client.Database(opt.DB).Collection(coll),
	}, nil
}

// Name implements presences.Sink
func (s *Store) Name() string {
	return "document"
}

// Write implements presences.Sink
func (s *Store) Write(ctx context.Context, id presences.Identity, rec presences.Record) error {
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": string(id)}, update(rec), options.Update().SetUpsert(true))

	return errors.Annotatef(err, "write status/%s", id)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// update replaces the record fields. The server timestamp sentinel maps to
// $currentDate so the stored date comes from the mongo server clock.
func update(rec presences.Record) bson.M {
	if rec.LastChanged.Server {
		return bson.M{
			"$set":         bson.M{"state": rec.State},
			"$currentDate": bson.M{"last_changed": true},
		}
	}

	return bson.M{
		"$set": bson.M{
			"state":        rec.State,
			"last_changed": rec.LastChanged.Time,
		},
	}
}
