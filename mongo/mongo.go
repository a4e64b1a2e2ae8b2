package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pulsevote/api.pulsevote.dev/poll"
)

// Store is the MongoDB-backed ballot store. The unique compound index on
// votes (option_id, session_id) is what makes InsertVote atomic; nothing in
// application code re-checks that pair.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

func New(ctx context.Context, uri, dbName string) (*Store, error) {
	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	if err = client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	s := &Store{
		client: client,
		db:     client.Database(dbName),
	}

	if err = s.ensureIndexes(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection("votes").Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "option_id", Value: 1}, {Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
	})
	if err != nil {
		return err
	}

	_, err = s.db.Collection("questions").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "poll_id", Value: 1}, {Key: "order_index", Value: 1}},
	})
	if err != nil {
		return err
	}

	_, err = s.db.Collection("options").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "question_id", Value: 1}, {Key: "order_index", Value: 1}},
	})
	return err
}

func (s *Store) Disconnect(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// nextID hands out sequential integer ids per collection from the counters
// collection.
func (s *Store) nextID(ctx context.Context, name string) (int, error) {
	res := s.db.Collection("counters").FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)

	var doc struct {
		Seq int `bson:"seq"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, &poll.StorageError{Op: "next id " + name, Err: err}
	}
	return doc.Seq, nil
}
