// Package mongodb implements MongoDB adapters for the application.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"insight_server/core/port/out"
)

// NewClient creates a new MongoDB client.
func NewClient(url string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(url).
		SetMaxPoolSize(100).
		SetMinPoolSize(10).
		SetMaxConnIdleTime(30 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// =============================================================================
// MongoDB Usage Store
// =============================================================================

const collectionUsageReports = "usage_reports"

// UsageStoreAdapter implements out.UsageStore using MongoDB.
type UsageStoreAdapter struct {
	collection *mongo.Collection
}

var _ out.UsageStore = (*UsageStoreAdapter)(nil)

func NewUsageStoreAdapter(db *mongo.Database) *UsageStoreAdapter {
	return &UsageStoreAdapter{
		collection: db.Collection(collectionUsageReports),
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *UsageStoreAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "run_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// SaveReport upserts one per-run usage report keyed by run id.
func (a *UsageStoreAdapter) SaveReport(ctx context.Context, report *out.UsageReport) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	opts := options.Replace().SetUpsert(true)
	filter := bson.D{{Key: "run_id", Value: report.RunID}}

	if _, err := a.collection.ReplaceOne(ctx, filter, report, opts); err != nil {
		return fmt.Errorf("failed to save usage report: %w", err)
	}
	return nil
}

// ReportsByDay returns the user's reports created during the given UTC day,
// newest first.
func (a *UsageStoreAdapter) ReportsByDay(ctx context.Context, userID string, day time.Time) ([]*out.UsageReport, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	filter := bson.D{
		{Key: "user_id", Value: userID},
		{Key: "created_at", Value: bson.D{
			{Key: "$gte", Value: start},
			{Key: "$lt", Value: end},
		}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := a.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage reports: %w", err)
	}
	defer cursor.Close(ctx)

	var reports []*out.UsageReport
	if err := cursor.All(ctx, &reports); err != nil {
		return nil, fmt.Errorf("failed to decode usage reports: %w", err)
	}
	return reports, nil
}
