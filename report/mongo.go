package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// document is the stored form of a Report
type document struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Location    Location           `bson:"location"`
	Timestamp   time.Time          `bson:"timestamp"`
	Type        string             `bson:"type"`
	Severity    string             `bson:"severity"`
	ImageURL    string             `bson:"image_url,omitempty"`
	Status      string             `bson:"status"`
	HazardCount int                `bson:"hazard_count"`
}

func toDocument(r Report) document {
	return document{
		Location:    r.Location,
		Timestamp:   r.Timestamp.UTC(),
		Type:        r.Type,
		Severity:    r.Severity,
		ImageURL:    r.ImageURL,
		Status:      r.Status,
		HazardCount: r.HazardCount,
	}
}

func (d document) report() Report {
	return Report{
		ID:          d.ID.Hex(),
		Location:    d.Location,
		Timestamp:   d.Timestamp,
		Type:        d.Type,
		Severity:    d.Severity,
		ImageURL:    d.ImageURL,
		Status:      d.Status,
		HazardCount: d.HazardCount,
	}
}

// MongoConfig locates the report collection
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
	// Timeout bounds connecting and each query
	Timeout time.Duration
}

// MongoRepository is a Repository backed by a MongoDB collection
type MongoRepository struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
	log     zerolog.Logger
}

// NewMongoRepository connects to MongoDB and ensures the collection indexes
// exist
func NewMongoRepository(ctx context.Context, cfg MongoConfig,
	log zerolog.Logger) (*MongoRepository, error) {

	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.URI))

	if err != nil {
		return nil, fmt.Errorf("error connecting to mongodb: %w", err)
	}

	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("error pinging mongodb: %w", err)
	}

	r := &MongoRepository{
		client:  client,
		coll:    client.Database(cfg.Database).Collection(cfg.Collection),
		timeout: cfg.Timeout,
		log:     log,
	}

	if err := r.ensureIndexes(cctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	log.Info().Str("database", cfg.Database).Str("collection", cfg.Collection).
		Msg("connected to mongodb")

	return r, nil
}

// ensureIndexes creates the indexes used by the location and age queries
func (r *MongoRepository) ensureIndexes(ctx context.Context) error {

	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "location.lat", Value: 1}, {Key: "location.lng", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
	})

	if err != nil {
		return fmt.Errorf("error creating indexes: %w", err)
	}

	return nil
}

// boxFilter matches documents inside box at or after since
func boxFilter(box Box, since time.Time) bson.M {

	filter := bson.M{
		"location.lat": bson.M{"$gte": box.MinLat, "$lte": box.MaxLat},
		"location.lng": bson.M{"$gte": box.MinLng, "$lte": box.MaxLng},
	}

	if !since.IsZero() {
		filter["timestamp"] = bson.M{"$gte": since.UTC()}
	}

	return filter
}

var newestFirst = bson.D{{Key: "timestamp", Value: -1}}

// find runs a query and decodes the matched reports
func (r *MongoRepository) find(ctx context.Context, filter bson.M,
	opts ...*options.FindOptions) ([]Report, error) {

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cur, err := r.coll.Find(ctx, filter, opts...)

	if err != nil {
		return nil, err
	}

	var docs []document

	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	reports := make([]Report, len(docs))

	for i, d := range docs {
		reports[i] = d.report()
	}

	return reports, nil
}

func (r *MongoRepository) FindInBox(ctx context.Context, box Box,
	since time.Time) ([]Report, error) {

	reports, err := r.find(ctx, boxFilter(box, since), options.Find().SetSort(newestFirst))

	if err != nil {
		return nil, fmt.Errorf("error finding reports in box: %w", err)
	}

	return reports, nil
}

func (r *MongoRepository) FindOlderThan(ctx context.Context, t time.Time) ([]Report, error) {

	reports, err := r.find(ctx, bson.M{"timestamp": bson.M{"$lt": t.UTC()}})

	if err != nil {
		return nil, fmt.Errorf("error finding old reports: %w", err)
	}

	return reports, nil
}

func (r *MongoRepository) List(ctx context.Context) ([]Report, error) {

	reports, err := r.find(ctx, bson.M{}, options.Find().SetSort(newestFirst))

	if err != nil {
		return nil, fmt.Errorf("error listing reports: %w", err)
	}

	return reports, nil
}

func (r *MongoRepository) Insert(ctx context.Context, rep Report) (string, error) {

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.coll.InsertOne(ctx, toDocument(rep))

	if err != nil {
		return "", fmt.Errorf("error inserting report: %w", err)
	}

	id, ok := res.InsertedID.(primitive.ObjectID)

	if !ok {
		return "", errors.New("unexpected inserted id type")
	}

	return id.Hex(), nil
}

func (r *MongoRepository) Delete(ctx context.Context, id string) error {

	oid, err := primitive.ObjectIDFromHex(id)

	if err != nil {
		return fmt.Errorf("%w: report id %q", ErrInvalidInput, id)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": oid})

	if err != nil {
		return fmt.Errorf("error deleting report: %w", err)
	}

	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: report %s", ErrNotFound, id)
	}

	return nil
}

// Close disconnects from MongoDB
func (r *MongoRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
