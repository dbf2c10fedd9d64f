package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yourorg/chat-app/services/realtime-service/internal/apperr"
)

// MongoStore implements MessageStore and UserDirectory on MongoDB.
type MongoStore struct {
	msgCol     *mongo.Collection
	contactCol *mongo.Collection
	userCol    *mongo.Collection
}

type contactDoc struct {
	OwnerID   string    `bson:"owner_id"`
	ContactID string    `bson:"contact_id"`
	CreatedAt time.Time `bson:"created_at"`
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	s := &MongoStore{
		msgCol:     db.Collection("messages"),
		contactCol: db.Collection("contacts"),
		userCol:    db.Collection("users"),
	}
	s.ensureIndexes()
	return s
}

func (s *MongoStore) ensureIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = s.msgCol.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	_, _ = s.contactCol.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "contact_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("owner_contact_idx"),
	})
}

func (s *MongoStore) Insert(ctx context.Context, m *Message) (*Message, error) {
	cp := *m
	cp.ID = uuid.NewString()
	cp.Status = StatusSent
	cp.CreatedAt = time.Now().UTC()
	if _, err := s.msgCol.InsertOne(ctx, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Message, error) {
	var m Message
	if err := s.msgCol.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// AdvanceStatus relies on a single conditional update so concurrent receipts
// for the same message cannot regress or double-apply a transition.
func (s *MongoStore) AdvanceStatus(ctx context.Context, id, status string) (bool, error) {
	if !ValidStatus(status) {
		return false, apperr.ErrInternal
	}
	var earlier []string
	for _, st := range []string{StatusSent, StatusDelivered} {
		if statusRank(st) < statusRank(status) {
			earlier = append(earlier, st)
		}
	}
	res, err := s.msgCol.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": earlier}},
		bson.M{"$set": bson.M{"status": status}},
	)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 0 {
		// either already at or past status, or unknown id
		n, err := s.msgCol.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, apperr.ErrNotFound
		}
		return false, nil
	}
	return res.ModifiedCount > 0, nil
}

func (s *MongoStore) History(ctx context.Context, userA, userB string) ([]*Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"sender_id": userA, "receiver_id": userB},
		bson.M{"sender_id": userB, "receiver_id": userA},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return s.findMessages(ctx, filter, opts)
}

func (s *MongoStore) PendingFor(ctx context.Context, receiverID string) ([]*Message, error) {
	filter := bson.M{"receiver_id": receiverID, "status": StatusSent}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return s.findMessages(ctx, filter, opts)
}

func (s *MongoStore) findMessages(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*Message, error) {
	cur, err := s.msgCol.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*Message
	for cur.Next(ctx) {
		var m Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, cur.Err()
}

func (s *MongoStore) KnownUser(ctx context.Context, id string) (bool, error) {
	n, err := s.userCol.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *MongoStore) Correspondents(ctx context.Context, id string) ([]string, error) {
	cur, err := s.contactCol.Find(ctx, bson.M{"$or": bson.A{
		bson.M{"owner_id": id},
		bson.M{"contact_id": id},
	}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	seen := make(map[string]struct{})
	for cur.Next(ctx) {
		var c contactDoc
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		other := c.ContactID
		if other == id {
			other = c.OwnerID
		}
		if other != id {
			seen[other] = struct{}{}
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out, nil
}

func (s *MongoStore) EnsureContact(ctx context.Context, owner, contact string) error {
	for _, pair := range [][2]string{{owner, contact}, {contact, owner}} {
		filter := bson.M{"owner_id": pair[0], "contact_id": pair[1]}
		update := bson.M{"$setOnInsert": contactDoc{OwnerID: pair[0], ContactID: pair[1], CreatedAt: time.Now().UTC()}}
		if _, err := s.contactCol.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
			return err
		}
	}
	return nil
}
