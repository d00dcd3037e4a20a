// internal/app/store/audit/store.go
package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection holding hub audit events.
const CollectionName = "auth_events"

// DefaultRetention is how long events are kept before the TTL index
// removes them.
const DefaultRetention = 90 * 24 * time.Hour

// Event types
const (
	EventLoginSuccess     = "login_success"
	EventLoginFailed      = "login_failed"
	EventLoginRateLimited = "login_rate_limited"
	EventSignup           = "signup"
	EventSignupFailed     = "signup_failed"
	EventHandOff          = "handoff"
	EventHandOffLoop      = "handoff_loop"
	EventLogout           = "logout"
	EventRecoverySent     = "recovery_sent"
	EventPasswordChanged  = "password_changed"
	EventOAuthStarted     = "oauth_started"
	EventCodeExchanged    = "code_exchanged"
	EventExchangeFailed   = "exchange_failed"
)

// Event is one audit record. Tokens are never stored; Subject is the
// unverified "sub" claim of the access token involved, if any.
type Event struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Timestamp time.Time          `bson:"timestamp"`

	EventType string `bson:"event_type"`
	Subject   string `bson:"subject,omitempty"`
	Email     string `bson:"email,omitempty"`

	// Page context
	PageID     string `bson:"page_id,omitempty"`
	Mode       string `bson:"mode,omitempty"`
	TargetHost string `bson:"target_host,omitempty"`

	IP        string `bson:"ip"`
	UserAgent string `bson:"user_agent,omitempty"`

	Success       bool   `bson:"success"`
	FailureReason string `bson:"failure_reason,omitempty"`

	Details map[string]string `bson:"details,omitempty"`
}

// QueryFilter narrows Query results. Zero fields are ignored.
type QueryFilter struct {
	Subject   string
	EventType string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int64
}

// Store manages audit event records.
type Store struct {
	c         *mongo.Collection
	retention time.Duration
}

// New creates a Store. A non-positive retention uses DefaultRetention.
func New(db *mongo.Database, retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{c: db.Collection(CollectionName), retention: retention}
}

// EnsureIndexes creates the TTL index and the query indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(s.retention / time.Second)).SetName("ttl_timestamp"),
		},
		{
			Keys: bson.D{
				{Key: "subject", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "event_type", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Log records an audit event.
func (s *Store) Log(ctx context.Context, event Event) error {
	if event.ID.IsZero() {
		event.ID = primitive.NewObjectID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_, err := s.c.InsertOne(ctx, event)
	return err
}

// Query returns events matching filter, most recent first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	query := bson.M{}
	if filter.Subject != "" {
		query["subject"] = filter.Subject
	}
	if filter.EventType != "" {
		query["event_type"] = filter.EventType
	}
	if filter.StartTime != nil || filter.EndTime != nil {
		timeQuery := bson.M{}
		if filter.StartTime != nil {
			timeQuery["$gte"] = *filter.StartTime
		}
		if filter.EndTime != nil {
			timeQuery["$lte"] = *filter.EndTime
		}
		query["timestamp"] = timeQuery
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit)

	cur, err := s.c.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var events []Event
	if err := cur.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Recent returns the latest events.
func (s *Store) Recent(ctx context.Context, limit int64) ([]Event, error) {
	return s.Query(ctx, QueryFilter{Limit: limit})
}

// BySubject returns the latest events for one user.
func (s *Store) BySubject(ctx context.Context, subject string, limit int64) ([]Event, error) {
	return s.Query(ctx, QueryFilter{Subject: subject, Limit: limit})
}

// Ping checks the database behind the store.
func (s *Store) Ping(ctx context.Context) error {
	return s.c.Database().Client().Ping(ctx, nil)
}
