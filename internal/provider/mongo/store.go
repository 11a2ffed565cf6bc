// Package mongo is the document record provider. A find is a single
// aggregate whose $facet stage returns the page and the total together.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Rrens/dyncontent/internal/domain"
	"github.com/Rrens/dyncontent/internal/provider"
)

// Name is the provider identifier.
const Name = "mongo"

const defaultCollection = "content_records"

type document struct {
	ID        string         `bson:"_id"`
	TenantID  string         `bson:"tenantId"`
	Block     string         `bson:"block"`
	Content   map[string]any `bson:"content"`
	Indexer   map[string]any `bson:"indexer"`
	CreatedAt time.Time      `bson:"createdAt"`
	UpdatedAt time.Time      `bson:"updatedAt"`
}

func (d document) record() domain.ContentRecord {
	return domain.ContentRecord{
		ID:        d.ID,
		TenantID:  d.TenantID,
		Block:     d.Block,
		Content:   d.Content,
		Indexer:   d.Indexer,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// Store implements provider.Provider over one collection.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Factory connects using cfg.DSN as the connection URI.
func Factory(ctx context.Context, cfg provider.Config) (provider.Provider, error) {
	clientOpts := options.Client().ApplyURI(cfg.DSN)
	if cfg.Timeout > 0 {
		clientOpts.SetConnectTimeout(cfg.Timeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = defaultCollection
	}
	s := &Store{client: client, coll: client.Database(cfg.Database).Collection(collection)}

	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "block", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create scope index: %w", err)
	}
	return nil
}

func (s *Store) Name() string {
	return Name
}

func (s *Store) Find(ctx context.Context, plan provider.Plan) (*domain.Page, error) {
	pipeline, err := buildPipeline(plan)
	if err != nil {
		return nil, err
	}

	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to run aggregate: %w", err))
	}
	defer cur.Close(ctx)

	var out []struct {
		Total []struct {
			N int `bson:"n"`
		} `bson:"total"`
		Items []document `bson:"items"`
	}
	if err := cur.All(ctx, &out); err != nil {
		return nil, classify(fmt.Errorf("failed to decode aggregate: %w", err))
	}

	page := &domain.Page{Items: make([]domain.ContentRecord, 0)}
	if len(out) == 0 {
		return page, nil
	}
	if len(out[0].Total) > 0 {
		page.Total = out[0].Total[0].N
	}
	for _, d := range out[0].Items {
		page.Items = append(page.Items, d.record())
	}
	return page, nil
}

func buildPipeline(plan provider.Plan) (mongo.Pipeline, error) {
	match := bson.D{}
	if !plan.AllTenants {
		match = append(match, bson.E{Key: "tenantId", Value: plan.TenantID})
	}
	match = append(match, bson.E{Key: "block", Value: plan.Block})

	if plan.Filter != nil {
		f, err := translate(plan.Filter)
		if err != nil {
			return nil, err
		}
		match = append(match, bson.E{Key: "$and", Value: bson.A{f}})
	}

	items := bson.A{}
	if len(plan.Sort) > 0 {
		sortDoc := bson.D{}
		for _, sf := range plan.Sort {
			path, err := fieldPath(sf.Field)
			if err != nil {
				return nil, err
			}
			dir := 1
			if sf.Desc {
				dir = -1
			}
			sortDoc = append(sortDoc, bson.E{Key: path, Value: dir})
		}
		items = append(items, bson.D{{Key: "$sort", Value: sortDoc}})
	}
	items = append(items, bson.D{{Key: "$skip", Value: int64(plan.Offset)}})
	if plan.Limit > 0 {
		items = append(items, bson.D{{Key: "$limit", Value: int64(plan.Limit)}})
	}

	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$facet", Value: bson.D{
			{Key: "total", Value: bson.A{bson.D{{Key: "$count", Value: "n"}}}},
			{Key: "items", Value: items},
		}}},
	}, nil
}

var operators = map[domain.CompareOp]string{
	domain.OpEq:  "$eq",
	domain.OpGt:  "$gt",
	domain.OpGte: "$gte",
	domain.OpLt:  "$lt",
	domain.OpLte: "$lte",
	domain.OpIn:  "$in",
}

func translate(f domain.Filter) (bson.D, error) {
	switch n := f.(type) {
	case domain.And, domain.Or:
		key, children := "$and", []domain.Filter(nil)
		if or, ok := n.(domain.Or); ok {
			key, children = "$or", or
		} else {
			children = n.(domain.And)
		}
		if len(children) == 0 {
			// An empty $and/$or is rejected by the server.
			if key == "$or" {
				return bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: bson.A{}}}}}, nil
			}
			return bson.D{}, nil
		}
		parts := bson.A{}
		for _, c := range children {
			d, err := translate(c)
			if err != nil {
				return nil, err
			}
			parts = append(parts, d)
		}
		return bson.D{{Key: key, Value: parts}}, nil
	case domain.Condition:
		path, err := fieldPath(n.Field)
		if err != nil {
			return nil, err
		}
		op, ok := operators[n.Op]
		if !ok {
			return nil, fmt.Errorf("unsupported operator %q", n.Op)
		}
		value := n.Value
		if path == "createdAt" || path == "updatedAt" {
			value = timeValue(value)
		}
		if n.Op == domain.OpIn {
			list, ok := value.([]any)
			if !ok {
				return nil, fmt.Errorf("operator in on %s needs a list", n.Field)
			}
			value = bson.A(list)
		}
		return bson.D{{Key: path, Value: bson.D{{Key: op, Value: value}}}}, nil
	}
	return nil, fmt.Errorf("unsupported filter node %T", f)
}

func fieldPath(field string) (string, error) {
	switch field {
	case domain.FieldID, domain.FieldCreatedAt, domain.FieldUpdatedAt:
		return field, nil
	}
	if key, ok := domain.SplitIndexerField(field); ok && key != "" {
		return field, nil
	}
	return "", fmt.Errorf("unsupported field %q", field)
}

func timeValue(v any) any {
	if str, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, str); err == nil {
			return t.UTC()
		}
	}
	return v
}

func scope(tenantID, block, id string) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "tenantId", Value: tenantID},
		{Key: "block", Value: block},
	}
}

func (s *Store) Get(ctx context.Context, tenantID, block, id string) (*domain.ContentRecord, error) {
	var d document
	err := s.coll.FindOne(ctx, scope(tenantID, block, id)).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, classify(fmt.Errorf("failed to get record: %w", err))
	}
	rec := d.record()
	return &rec, nil
}

func (s *Store) Insert(ctx context.Context, rec *domain.ContentRecord) error {
	d, err := toDocument(rec)
	if err != nil {
		return err
	}
	if _, err := s.coll.InsertOne(ctx, d); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Conflict("mongo.Store.Insert", "record %s already exists", rec.ID)
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, rec *domain.ContentRecord) (bool, error) {
	d, err := toDocument(rec)
	if err != nil {
		return false, err
	}

	res, err := s.coll.UpdateOne(ctx, scope(rec.TenantID, rec.Block, rec.ID), bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "content", Value: d.Content},
			{Key: "indexer", Value: d.Indexer},
			{Key: "updatedAt", Value: d.UpdatedAt},
		}},
	})
	if err != nil {
		return false, fmt.Errorf("failed to update record: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (s *Store) Delete(ctx context.Context, tenantID, block, id string) (bool, error) {
	res, err := s.coll.DeleteOne(ctx, scope(tenantID, block, id))
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}
	return res.DeletedCount > 0, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("not connected")
	}
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Disconnect(context.Background())
	}
	return nil
}

func toDocument(rec *domain.ContentRecord) (document, error) {
	content, err := domain.DecodeObject(rec.Content)
	if err != nil {
		return document{}, fmt.Errorf("failed to decode content: %w", err)
	}
	indexer, err := domain.DecodeObject(rec.Indexer)
	if err != nil {
		return document{}, fmt.Errorf("failed to decode indexer: %w", err)
	}
	return document{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		Block:     rec.Block,
		Content:   content,
		Indexer:   indexer,
		CreatedAt: rec.CreatedAt.UTC(),
		UpdatedAt: rec.UpdatedAt.UTC(),
	}, nil
}

func classify(err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return provider.Transient(err)
	}
	return err
}
