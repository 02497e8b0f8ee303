package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/farerouter/internal/decisionlog/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const decisionCollection = "routing_decision_logs"

// decisionDocument stores money as strings to keep decimal precision.
type decisionDocument struct {
	ID                 int64          `bson:"_id"`
	SearchID           string         `bson:"search_id,omitempty"`
	SessionID          string         `bson:"session_id,omitempty"`
	OfferID            string         `bson:"offer_id"`
	Source             string         `bson:"source,omitempty"`
	Channel            string         `bson:"channel"`
	DecisionReason     string         `bson:"decision_reason"`
	IsExcluded         bool           `bson:"is_excluded"`
	ExclusionReason    string         `bson:"exclusion_reason,omitempty"`
	CommissionPct      string         `bson:"commission_pct"`
	CommissionAmount   string         `bson:"commission_amount"`
	ConsolidatorProfit string         `bson:"consolidator_profit"`
	DuffelProfit       string         `bson:"duffel_profit"`
	EstimatedProfit    string         `bson:"estimated_profit"`
	Currency           string         `bson:"currency"`
	ValidatingCarrier  string         `bson:"validating_carrier,omitempty"`
	Metadata           map[string]any `bson:"metadata,omitempty"`
	CreatedAt          time.Time      `bson:"created_at"`
}

type mongoRepo struct {
	collection *mongo.Collection
}

// NewMongoRepository returns a repository over the decision collection and
// ensures its indexes.
func NewMongoRepository(ctx context.Context, db *mongo.Database) (domain.Repository, error) {
	collection := db.Collection(decisionCollection)

	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "search_id", Value: 1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
	})
	if err != nil {
		return nil, err
	}
	return &mongoRepo{collection: collection}, nil
}

func (r *mongoRepo) Insert(ctx context.Context, entry *domain.DecisionLog) error {
	if entry == nil {
		return nil
	}
	_, err := r.collection.InsertOne(ctx, toDocument(entry))
	return err
}

func (r *mongoRepo) List(ctx context.Context, filter domain.ListFilter) ([]*domain.DecisionLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit + 1))
	}

	cursor, err := r.collection.Find(ctx, buildFilter(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []decisionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]*domain.DecisionLog, 0, len(docs))
	for i := range docs {
		out = append(out, fromDocument(&docs[i]))
	}
	return out, nil
}

func buildFilter(filter domain.ListFilter) bson.M {
	query := bson.M{}
	if searchID := strings.TrimSpace(filter.SearchID); searchID != "" {
		query["search_id"] = searchID
	}
	if sessionID := strings.TrimSpace(filter.SessionID); sessionID != "" {
		query["session_id"] = sessionID
	}
	if offerID := strings.TrimSpace(filter.OfferID); offerID != "" {
		query["offer_id"] = offerID
	}
	if channel := strings.TrimSpace(filter.Channel); channel != "" {
		query["channel"] = channel
	}

	created := bson.M{}
	if filter.StartAt != nil {
		created["$gte"] = filter.StartAt.UTC()
	}
	if filter.EndAt != nil {
		created["$lte"] = filter.EndAt.UTC()
	}
	if len(created) > 0 {
		query["created_at"] = created
	}

	if filter.Cursor != nil {
		query["$or"] = bson.A{
			bson.M{"created_at": bson.M{"$lt": filter.Cursor.CreatedAt}},
			bson.M{"created_at": filter.Cursor.CreatedAt, "_id": bson.M{"$lt": filter.Cursor.ID.Int64()}},
		}
	}
	return query
}

func toDocument(entry *domain.DecisionLog) decisionDocument {
	return decisionDocument{
		ID:                 entry.ID.Int64(),
		SearchID:           entry.SearchID,
		SessionID:          entry.SessionID,
		OfferID:            entry.OfferID,
		Source:             entry.Source,
		Channel:            entry.Channel,
		DecisionReason:     entry.DecisionReason,
		IsExcluded:         entry.IsExcluded,
		ExclusionReason:    entry.ExclusionReason,
		CommissionPct:      entry.CommissionPct.String(),
		CommissionAmount:   entry.CommissionAmount.StringFixed(2),
		ConsolidatorProfit: entry.ConsolidatorProfit.StringFixed(2),
		DuffelProfit:       entry.DuffelProfit.StringFixed(2),
		EstimatedProfit:    entry.EstimatedProfit.StringFixed(2),
		Currency:           entry.Currency,
		ValidatingCarrier:  entry.ValidatingCarrier,
		Metadata:           entry.Metadata,
		CreatedAt:          entry.CreatedAt.UTC(),
	}
}

func fromDocument(doc *decisionDocument) *domain.DecisionLog {
	return &domain.DecisionLog{
		ID:                 snowflake.ID(doc.ID),
		SearchID:           doc.SearchID,
		SessionID:          doc.SessionID,
		OfferID:            doc.OfferID,
		Source:             doc.Source,
		Channel:            doc.Channel,
		DecisionReason:     doc.DecisionReason,
		IsExcluded:         doc.IsExcluded,
		ExclusionReason:    doc.ExclusionReason,
		CommissionPct:      parseDecimal(doc.CommissionPct),
		CommissionAmount:   parseDecimal(doc.CommissionAmount),
		ConsolidatorProfit: parseDecimal(doc.ConsolidatorProfit),
		DuffelProfit:       parseDecimal(doc.DuffelProfit),
		EstimatedProfit:    parseDecimal(doc.EstimatedProfit),
		Currency:           doc.Currency,
		ValidatingCarrier:  doc.ValidatingCarrier,
		Metadata:           doc.Metadata,
		CreatedAt:          doc.CreatedAt.UTC(),
	}
}

func parseDecimal(raw string) decimal.Decimal {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return value
}

// NewMongoClient connects and pings the configured deployment.
func NewMongoClient(ctx context.Context, uri, username, password string) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(uri)
	if username != "" && password != "" {
		clientOptions.SetAuth(options.Credential{
			Username: username,
			Password: password,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}
