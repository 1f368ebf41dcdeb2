package reports

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iurnickita/teapot/internal/reports/config"
)

// DailyReport is the 24h snapshot archived by the scheduler.
type DailyReport struct {
	Date              string    `bson:"date"`
	GeneratedAt       time.Time `bson:"generated_at"`
	TotalTransactions int       `bson:"total_transactions"`
	UniqueCustomers   int       `bson:"unique_customers"`
	TotalQuantity     int       `bson:"total_quantity"`
	AverageQuantity   float64   `bson:"average_quantity"`
	UnitsSold         int       `bson:"units_sold"`
	StockLevel        int       `bson:"stock_level"`
	LowStock          bool      `bson:"low_stock"`
}

// Repository defines the interface for report storage.
type Repository interface {
	SaveDailyReport(ctx context.Context, report DailyReport) error
	Close(ctx context.Context) error
}

type MongoRepository struct {
	client   *mongo.Client
	dbName   string
	collName string
}

func NewMongoRepository(ctx context.Context, cfg config.Config) (*MongoRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	return newMongoRepository(ctx, client, cfg.MongoDBName)
}

// newMongoRepository проверяет соединение; при ошибке клиент отключается
func newMongoRepository(ctx context.Context, client *mongo.Client, dbName string) (*MongoRepository, error) {
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	if dbName == "" {
		dbName = "teapot"
	}
	return &MongoRepository{
		client:   client,
		dbName:   dbName,
		collName: "daily_reports",
	}, nil
}

// SaveDailyReport upserts the report for its date, so a rerun replaces the earlier snapshot.
func (r *MongoRepository) SaveDailyReport(ctx context.Context, report DailyReport) error {
	collection := r.client.Database(r.dbName).Collection(r.collName)
	_, err := collection.ReplaceOne(ctx,
		bson.M{"date": report.Date},
		report,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save daily report: %w", err)
	}
	return nil
}

func (r *MongoRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
