package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/milesc-bot/gym-scraper/internal/config"
	"github.com/milesc-bot/gym-scraper/internal/types"
)

// MongoArchive keeps raw scrape results, one document per run and URL,
// for debugging extractor regressions against what a page actually
// contained at the time.
type MongoArchive struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
}

// archiveDoc is the stored shape.
type archiveDoc struct {
	PageURL    string              `bson:"page_url"`
	ScrapedAt  time.Time           `bson:"scraped_at"`
	ClassCount int                 `bson:"class_count"`
	Result     *types.ScrapeResult `bson:"result"`
}

// NewMongoArchive connects and pings within a 10s window.
func NewMongoArchive(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*MongoArchive, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	a := &MongoArchive{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:     logger.With("component", "archive"),
	}
	a.ensureIndexes(ctx)
	return a, nil
}

func (a *MongoArchive) ensureIndexes(ctx context.Context) {
	_, err := a.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "page_url", Value: 1}, {Key: "scraped_at", Value: -1}}},
		{Keys: bson.D{{Key: "scraped_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(int32((30 * 24 * time.Hour).Seconds()))},
	})
	if err != nil {
		a.logger.Warn("index creation failed", "error", err)
	}
}

// Archive inserts one raw result document.
func (a *MongoArchive) Archive(ctx context.Context, pageURL string, res *types.ScrapeResult) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := a.collection.InsertOne(ctx, archiveDoc{
		PageURL:    pageURL,
		ScrapedAt:  time.Now().UTC(),
		ClassCount: len(res.Classes),
		Result:     res,
	})
	if err != nil {
		return fmt.Errorf("archive insert: %w", err)
	}
	a.logger.Debug("result archived", "url", pageURL, "classes", len(res.Classes))
	return nil
}

// Close disconnects the client.
func (a *MongoArchive) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return a.client.Disconnect(ctx)
}
