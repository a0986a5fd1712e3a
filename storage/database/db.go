package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/trezcool/campusadmin/core"
)

// collections
const (
	UsersCollection  = "users"
	AdminsCollection = "admins"

	EmailIndex = "email_unique"
)

// Open connects to the configured MongoDB deployment and waits for it to be ready.
func Open(conf *core.Config) (*mongo.Database, error) {
	opts := options.Client().
		ApplyURI(conf.Database.URI).
		SetAppName(conf.AppName).
		SetConnectTimeout(conf.Database.ConnectTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), conf.Database.ConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to database")
	}

	if err = ping(client); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "pinging database")
	}
	return client.Database(conf.Database.Name), nil
}

// Close disconnects the client db belongs to.
func Close(ctx context.Context, db *mongo.Database) error {
	return db.Client().Disconnect(ctx)
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(client *mongo.Client) error {
	var err error
	maxAttempts := 30
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = client.Ping(ctx, readpref.Primary())
		cancel()
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
	}

	if err != nil {
		return errors.Wrap(err, "DB ping timeout")
	}
	return nil
}

// EnsureIndexes creates the indexes the console queries rely on. Existing indexes are left untouched.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(UsersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName(EmailIndex).SetUnique(true).SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("createdAt"),
		},
		{
			Keys:    bson.D{{Key: "year", Value: 1}, {Key: "speciality", Value: 1}},
			Options: options.Index().SetName("year_speciality"),
		},
	})
	if err != nil {
		return errors.Wrap(err, "creating users indexes")
	}
	return nil
}

// Drop removes every collection of db. Only meant for tests.
func Drop(ctx context.Context, db *mongo.Database) error {
	return errors.Wrap(db.Drop(ctx), "dropping database")
}
