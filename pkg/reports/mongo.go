package reports

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/azybler/safepath/pkg/geo"
)

// MongoConfig selects the reports collection.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// MongoStore is a Store backed by a MongoDB collection with a 2dsphere
// index on the GeoJSON "geo" field.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// mongoReport is the stored document shape.
type mongoReport struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Location  Location           `bson:"location"`
	Geo       geoPoint           `bson:"geo"`
	Severity  *int               `bson:"severity"`
	Category  string             `bson:"category"`
	Details   string             `bson:"details"`
	Timestamp string             `bson:"timestamp"`
	Status    string             `bson:"status"`
}

type geoPoint struct {
	Type        string     `bson:"type"`
	Coordinates [2]float64 `bson:"coordinates"` // lon, lat
}

// NewMongoStore connects, pings and ensures the geo index exists.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	idx := mongo.IndexModel{Keys: bson.D{{Key: "geo", Value: "2dsphere"}}}
	if _, err := coll.Indexes().CreateOne(ctx, idx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create geo index: %w", err)
	}

	slog.Info("report store connected",
		"backend", "mongo",
		"database", cfg.Database,
		"collection", cfg.Collection)
	return &MongoStore{client: client, coll: coll}, nil
}

func (s *MongoStore) Insert(ctx context.Context, r Report) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	doc := toDocument(r)
	doc.Status = StatusSubmitted

	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("insert report: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	return fmt.Sprint(res.InsertedID), nil
}

func (s *MongoStore) Nearby(ctx context.Context, lat, lon, radiusMeters float64) ([]Report, error) {
	if !geo.ValidLatLng(lat, lon) {
		return nil, fmt.Errorf("%w: query point (%v, %v)", ErrInvalidReport, lat, lon)
	}
	return s.find(ctx, nearbyFilter(lat, lon, radiusMeters))
}

func (s *MongoStore) AllVerified(ctx context.Context) ([]Report, error) {
	return s.find(ctx, bson.M{"status": StatusVerified})
}

func (s *MongoStore) SetStatus(ctx context.Context, id, status string) error {
	if !validStatus(status) {
		return fmt.Errorf("%w: status %q", ErrInvalidReport, status)
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	res, err := s.coll.UpdateByID(ctx, oid, bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) find(ctx context.Context, filter bson.M) ([]Report, error) {
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find reports: %w", err)
	}
	var docs []mongoReport
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode reports: %w", err)
	}
	out := make([]Report, len(docs))
	for i, d := range docs {
		out[i] = fromDocument(d)
	}
	return out, nil
}

// nearbyFilter matches verified reports within radiusMeters of (lat, lon).
func nearbyFilter(lat, lon, radiusMeters float64) bson.M {
	return bson.M{
		"geo": bson.M{
			"$geoWithin": bson.M{
				"$centerSphere": bson.A{bson.A{lon, lat}, radiusMeters / EarthRadiusMeters},
			},
		},
		"status": StatusVerified,
	}
}

func toDocument(r Report) mongoReport {
	return mongoReport{
		Location:  r.Location,
		Geo:       geoPoint{Type: "Point", Coordinates: [2]float64{r.Location.Lon, r.Location.Lat}},
		Severity:  r.Severity,
		Category:  r.Category,
		Details:   r.Details,
		Timestamp: r.Timestamp,
		Status:    r.Status,
	}
}

func fromDocument(d mongoReport) Report {
	return Report{
		ID:        d.ID.Hex(),
		Location:  d.Location,
		Severity:  d.Severity,
		Category:  d.Category,
		Details:   d.Details,
		Timestamp: d.Timestamp,
		Status:    d.Status,
	}
}
