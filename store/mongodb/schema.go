package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	subjectsColl  = "subjects"
	topicsColl    = "topics"
	subtopicsColl = "subtopics"
	questionsColl = "questions"
	batchesColl   = "ingestionBatches"
)

var indexes = map[string][]mongo.IndexModel{
	subjectsColl: {
		{Keys: bson.D{{Key: "subjectId", Value: 1}, {Key: "examType", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	topicsColl: {
		{Keys: bson.D{{Key: "topicId", Value: 1}, {Key: "subjectId", Value: 1}, {Key: "examType", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	subtopicsColl: {
		{Keys: bson.D{{Key: "name", Value: 1}, {Key: "topicId", Value: 1}, {Key: "subjectId", Value: 1}, {Key: "examType", Value: 1}}, Options: options.Index().SetUnique(true)},
	},
	questionsColl: {
		{Keys: bson.D{{Key: "examType", Value: 1}, {Key: "subjectId", Value: 1}, {Key: "topicId", Value: 1}, {Key: "subtopicName", Value: 1}}},
		{Keys: bson.D{{Key: "difficulty", Value: 1}, {Key: "questionType", Value: 1}}},
		{Keys: bson.D{{Key: "locked", Value: 1}}},
		{Keys: bson.D{{Key: "examType", Value: 1}, {Key: "subjectId", Value: 1}, {Key: "topicName", Value: 1}}},
		{Keys: bson.D{{Key: "examType", Value: 1}, {Key: "createdAt", Value: 1}}},
	},
	batchesColl: {
		{Keys: bson.D{{Key: "examType", Value: 1}, {Key: "createdAt", Value: -1}}},
	},
}

// EnsureSchema creates the indexes, and with them the collections. Creating an
// index that already exists with the same keys and options is a no-op, so this
// is safe on every connect.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return classify("create indexes", fmt.Errorf("failed to create indexes on %s: %w", coll, err))
		}
	}
	s.log.Debug("mongo indexes ensured", "database", s.db.Name())
	return nil
}
