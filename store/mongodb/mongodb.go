// Package mongodb stores one exam's question bank in MongoDB. Ingestion needs
// multi-document transactions, so the server must be a replica set member.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"qbank-server/models"
	"qbank-server/store"
)

// Store is a store.Store over one MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to uri and pings the primary.
func Open(ctx context.Context, uri, database string, logger *slog.Logger) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	logger.Info("connected to mongo", "database", database)
	return &Store{client: client, db: client.Database(database), log: logger}, nil
}

func (s *Store) Driver() string { return "mongo" }

func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.client.Ping(ctx, readpref.Primary()))
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return &models.TransientError{Op: op, Err: err}
	}
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorLabel("TransientTransactionError") || se.HasErrorLabel("RetryableWriteError")) {
		return &models.TransientError{Op: op, Err: err}
	}
	return store.Classify(op, err)
}

func (s *Store) questions() *mongo.Collection { return s.db.Collection(questionsColl) }

// Ingest upserts the counters and inserts the questions unordered, all inside
// one session transaction.
func (s *Store) Ingest(ctx context.Context, b store.IngestBatch) error {
	docs := make([]any, 0, len(b.Questions))
	seen := make(map[string]bool, len(b.Questions))
	var repeated []string
	for _, q := range b.Questions {
		if seen[q.ID] {
			repeated = append(repeated, q.ID)
		}
		seen[q.ID] = true
		docs = append(docs, q)
	}
	if len(repeated) > 0 {
		return &models.DuplicateQuestionError{IDs: repeated}
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return classify("start session", err)
	}
	defer sess.EndSession(ctx)

	n := len(b.Questions)
	upsert := options.Update().SetUpsert(true)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		_, err := s.db.Collection(subjectsColl).UpdateOne(sc,
			bson.M{"subjectId": b.SubjectID, "examType": b.ExamType},
			bson.M{
				"$inc":         bson.M{"totalQuestions": n},
				"$set":         bson.M{"name": b.SubjectName, "updatedAt": b.At},
				"$setOnInsert": bson.M{"createdAt": b.At},
			}, upsert)
		if err != nil {
			return nil, fmt.Errorf("upsert subject: %w", err)
		}
		_, err = s.db.Collection(topicsColl).UpdateOne(sc,
			bson.M{"topicId": b.TopicID, "subjectId": b.SubjectID, "examType": b.ExamType},
			bson.M{
				"$inc":         bson.M{"totalQuestions": n},
				"$set":         bson.M{"name": b.TopicName, "subjectName": b.SubjectName, "updatedAt": b.At},
				"$setOnInsert": bson.M{"createdAt": b.At},
			}, upsert)
		if err != nil {
			return nil, fmt.Errorf("upsert topic: %w", err)
		}
		for _, d := range b.Subtopics {
			_, err = s.db.Collection(subtopicsColl).UpdateOne(sc,
				bson.M{"name": d.Name, "topicId": b.TopicID, "subjectId": b.SubjectID, "examType": b.ExamType},
				bson.M{
					"$inc":         bson.M{"totalQuestions": d.Count},
					"$set":         bson.M{"topicName": b.TopicName, "updatedAt": b.At},
					"$setOnInsert": bson.M{"createdAt": b.At},
				}, upsert)
			if err != nil {
				return nil, fmt.Errorf("upsert subtopic %q: %w", d.Name, err)
			}
		}

		if _, err := s.questions().InsertMany(sc, docs, options.InsertMany().SetOrdered(false)); err != nil {
			if dups := duplicateIDs(err, b.Questions); len(dups) > 0 {
				return nil, &models.DuplicateQuestionError{IDs: dups}
			}
			return nil, fmt.Errorf("insert questions: %w", err)
		}
		_, err = s.db.Collection(batchesColl).InsertOne(sc, bson.M{
			"_id": b.BatchID, "examType": b.ExamType, "subjectId": b.SubjectID,
			"topicId": b.TopicID, "questionCount": n, "createdAt": b.At,
		})
		if err != nil {
			return nil, fmt.Errorf("record batch: %w", err)
		}
		return nil, nil
	})
	return classify("ingest", err)
}

// duplicateIDs picks the ids of the write errors that are duplicate-key violations.
func duplicateIDs(err error, qs []models.Question) []string {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return nil
	}
	var out []string
	for _, we := range bwe.WriteErrors {
		if we.Code == 11000 && we.Index >= 0 && we.Index < len(qs) {
			out = append(out, qs[we.Index].ID)
		}
	}
	return out
}

func (s *Store) Sample(ctx context.Context, f store.SampleFilter, n int) ([]models.Question, error) {
	if n <= 0 {
		return nil, nil
	}
	match := bson.M{"examType": f.ExamType, "subjectId": f.SubjectID, "questionType": f.QuestionType}
	if f.Difficulty != "" {
		match["difficulty"] = f.Difficulty
	}
	if f.UnlockedOnly {
		match["locked"] = false
	}
	cur, err := s.questions().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sample", Value: bson.M{"size": n}}},
	})
	if err != nil {
		return nil, classify("sample", err)
	}
	var qs []models.Question
	if err := cur.All(ctx, &qs); err != nil {
		return nil, classify("sample", err)
	}
	return qs, nil
}

func scopeFilter(sc store.Scope) bson.M {
	return bson.M{"examType": sc.ExamType, "subjectId": sc.SubjectID, "topicName": sc.TopicName}
}

func (s *Store) CountLocks(ctx context.Context, sc store.Scope) (models.LockCount, error) {
	var lc models.LockCount
	cur, err := s.questions().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: scopeFilter(sc)}},
		{{Key: "$group", Value: bson.M{
			"_id":    nil,
			"total":  bson.M{"$sum": 1},
			"locked": bson.M{"$sum": bson.M{"$cond": bson.A{"$locked", 1, 0}}},
		}}},
	})
	if err != nil {
		return lc, classify("count locks", err)
	}
	var out []struct {
		Total  int `bson:"total"`
		Locked int `bson:"locked"`
	}
	if err := cur.All(ctx, &out); err != nil {
		return lc, classify("count locks", err)
	}
	if len(out) > 0 {
		lc.TotalCount, lc.LockedCount = out[0].Total, out[0].Locked
	}
	lc.UnlockedCount = lc.TotalCount - lc.LockedCount
	return lc, nil
}

// setLocked is a pipeline update: documents already in the target state are
// left byte-identical, so ModifiedCount counts real changes only.
func setLocked(locked bool, now time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"updatedAt": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$locked", locked}}, "$updatedAt", now}},
			"locked":    locked,
		}}},
	}
}

func (s *Store) SetScopeLock(ctx context.Context, sc store.Scope, locked bool) (models.UpdateResult, error) {
	res, err := s.questions().UpdateMany(ctx, scopeFilter(sc), setLocked(locked, time.Now().UTC()))
	if err != nil {
		return models.UpdateResult{}, classify("lock scope", err)
	}
	return models.UpdateResult{Matched: int(res.MatchedCount), Modified: int(res.ModifiedCount)}, nil
}

func (s *Store) LockIDs(ctx context.Context, examType string, ids []string) (models.UpdateResult, error) {
	res, err := s.questions().UpdateMany(ctx,
		bson.M{"examType": examType, "_id": bson.M{"$in": ids}},
		setLocked(true, time.Now().UTC()))
	if err != nil {
		return models.UpdateResult{}, classify("lock ids", err)
	}
	return models.UpdateResult{Matched: int(res.MatchedCount), Modified: int(res.ModifiedCount)}, nil
}

// ClaimIDs issues one conditional update per id inside a session transaction,
// so a failure part way through leaves every id as it was.
func (s *Store) ClaimIDs(ctx context.Context, examType string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, classify("start session", err)
	}
	defer sess.EndSession(ctx)

	now := time.Now().UTC()
	var claimed []string
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		claimed = claimed[:0]
		for _, id := range ids {
			res, err := s.questions().UpdateOne(sc,
				bson.M{"_id": id, "examType": examType, "locked": false},
				bson.M{"$set": bson.M{"locked": true, "updatedAt": now}})
			if err != nil {
				return nil, err
			}
			if res.ModifiedCount == 1 {
				claimed = append(claimed, id)
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, classify("claim ids", err)
	}
	return claimed, nil
}

func (s *Store) ReleaseIDs(ctx context.Context, examType string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.questions().UpdateMany(ctx,
		bson.M{"examType": examType, "_id": bson.M{"$in": ids}, "locked": true},
		bson.M{"$set": bson.M{"locked": false, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return 0, classify("release ids", err)
	}
	return int(res.ModifiedCount), nil
}

func (s *Store) GroupCounts(ctx context.Context, examType string) ([]store.GroupCount, error) {
	cur, err := s.questions().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"examType": examType}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{
				"subjectId": "$subjectId", "subjectName": "$subjectName",
				"topicId": "$topicId", "topicName": "$topicName",
				"questionType": "$questionType", "difficulty": "$difficulty", "locked": "$locked",
			},
			"count": bson.M{"$sum": 1},
		}}},
	})
	if err != nil {
		return nil, classify("group counts", err)
	}
	var rows []struct {
		ID struct {
			SubjectID    string              `bson:"subjectId"`
			SubjectName  string              `bson:"subjectName"`
			TopicID      string              `bson:"topicId"`
			TopicName    string              `bson:"topicName"`
			QuestionType models.QuestionType `bson:"questionType"`
			Difficulty   models.Difficulty   `bson:"difficulty"`
			Locked       bool                `bson:"locked"`
		} `bson:"_id"`
		Count int `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, classify("group counts", err)
	}
	out := make([]store.GroupCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.GroupCount{
			SubjectID: r.ID.SubjectID, SubjectName: r.ID.SubjectName,
			TopicID: r.ID.TopicID, TopicName: r.ID.TopicName,
			QuestionType: r.ID.QuestionType, Difficulty: r.ID.Difficulty, Locked: r.ID.Locked,
			Count: r.Count,
		})
	}
	return out, nil
}

func (s *Store) DailyCounts(ctx context.Context, examType string, since time.Time) ([]models.DailyCount, error) {
	cur, err := s.questions().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"examType": examType, "createdAt": bson.M{"$gte": since}}}},
		{{Key: "$group", Value: bson.M{
			"_id":   bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$createdAt", "timezone": "UTC"}},
			"count": bson.M{"$sum": 1},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	})
	if err != nil {
		return nil, classify("daily counts", err)
	}
	var out []models.DailyCount
	if err := cur.All(ctx, &out); err != nil {
		return nil, classify("daily counts", err)
	}
	return out, nil
}

func (s *Store) Counters(ctx context.Context, examType string) (store.Counters, error) {
	var c store.Counters
	filter := bson.M{"examType": examType}

	cur, err := s.db.Collection(subjectsColl).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "subjectId", Value: 1}}))
	if err != nil {
		return c, classify("counters", err)
	}
	if err := cur.All(ctx, &c.Subjects); err != nil {
		return c, classify("counters", err)
	}
	cur, err = s.db.Collection(topicsColl).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "subjectId", Value: 1}, {Key: "topicId", Value: 1}}))
	if err != nil {
		return c, classify("counters", err)
	}
	if err := cur.All(ctx, &c.Topics); err != nil {
		return c, classify("counters", err)
	}
	cur, err = s.db.Collection(subtopicsColl).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "topicId", Value: 1}, {Key: "name", Value: 1}}))
	if err != nil {
		return c, classify("counters", err)
	}
	if err := cur.All(ctx, &c.Subtopics); err != nil {
		return c, classify("counters", err)
	}
	return c, nil
}
