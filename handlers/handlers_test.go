package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbank-server/config"
	"qbank-server/db"
	"qbank-server/exam"
	"qbank-server/examtype"
	"qbank-server/ingestion"
	"qbank-server/models"
	"qbank-server/stats"
	"qbank-server/store"
)

var discard = slog.New(slog.DiscardHandler)

func init() { gin.SetMode(gin.TestMode) }

type testServer struct {
	engine *gin.Engine
	router *db.Router
}

func newDeps(provider store.Provider, stores StoreAdmin, batchDir string) Deps {
	agg := stats.NewAggregator(provider, nil, discard)
	sampler := exam.NewSampler(provider, discard, "", "")
	locker := exam.NewLocker(provider, discard, agg.Invalidate)
	return Deps{
		Pipeline:  ingestion.NewPipeline(provider, discard, ingestion.OnCommit(agg.Invalidate)),
		Sampler:   sampler,
		Locker:    locker,
		Assembler: exam.NewAssembler(sampler, locker, discard),
		Stats:     agg,
		Stores:    stores,
		BatchDir:  batchDir,
		Logger:    discard,
	}
}

// newServer serves a memory-backed JEE store only.
func newServer(t *testing.T) *testServer {
	t.Helper()
	router := db.NewRouter(
		map[examtype.Key]config.StoreConfig{examtype.JEE: {Driver: "memory"}},
		db.NewOpener(discard),
		db.RouterOptions{Logger: discard},
	)
	t.Cleanup(func() { router.Close(context.Background()) })
	engine := gin.New()
	Register(engine, newDeps(router, router, t.TempDir()), nil, nil)
	return &testServer{engine: engine, router: router}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func ingestBody(examType string, ids ...string) gin.H {
	qs := make([]gin.H, 0, len(ids))
	for i, id := range ids {
		qs = append(qs, gin.H{
			"id": id, "question_no": i + 1, "question": "Q" + id,
			"question_type": "MCQ", "difficulty": "easy",
			"options": gin.H{"A": "1", "B": "2", "C": "3", "D": "4"}, "correct_answer": "A",
		})
	}
	return gin.H{
		"examType": examType, "subjectId": "phy", "subjectName": "Physics",
		"topicId": "kin", "topicName": "Kinematics", "questions": qs,
	}
}

func TestHealthzAndNormalize(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", nil).Code)

	w := s.do(t, http.MethodGet, "/api/v1/exam-types/normalize?q=neet-ug", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[map[string]any](t, w)
	assert.Equal(t, "NEET", got["examType"])
	assert.Equal(t, true, got["recognized"])

	got = decode[map[string]any](t, s.do(t, http.MethodGet, "/api/v1/exam-types/normalize?q=CAT", nil))
	assert.Equal(t, false, got["recognized"])
}

func TestIngestSelectLockStats(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/questions/ingest", ingestBody("jee mains", "q1", "q2", "q3", "q4"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[ingestion.Result](t, w)
	assert.Equal(t, "JEE", res.ExamType)
	assert.Equal(t, 4, res.Count)
	assert.NotEmpty(t, res.BatchID)

	w = s.do(t, http.MethodPost, "/api/v1/selections/random", gin.H{
		"examType": "IIT-JEE", "subjectSelections": gin.H{"phy": gin.H{"mcq": 2}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sel := decode[exam.Selection](t, w)
	assert.Equal(t, 2, sel.Total)
	require.Len(t, sel.Cells, 1)
	assert.Equal(t, 2, sel.Cells[0].Selected)

	w = s.do(t, http.MethodPut, "/api/v1/locks", gin.H{
		"examType": "JEE", "subjectId": "phy", "topicName": "Kinematics", "lock": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.UpdateResult{Matched: 4, Modified: 4}, decode[models.UpdateResult](t, w))

	w = s.do(t, http.MethodGet, "/api/v1/locks?examType=jee&subjectId=phy&topicName=Kinematics", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.LockCount{LockedCount: 4, TotalCount: 4}, decode[models.LockCount](t, w))

	w = s.do(t, http.MethodGet, "/api/v1/stats?examType=JEE", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode[stats.Stats](t, w)
	assert.Equal(t, 4, st.Summary.TotalQuestions)
	assert.Equal(t, 4, st.Summary.LockedQuestions)
	assert.Len(t, st.RecentActivity, stats.ActivityDays)
}

func TestLockQuestionsAndAssemble(t *testing.T) {
	s := newServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/questions/ingest", ingestBody("JEE", "a", "b", "c")).Code)

	w := s.do(t, http.MethodPost, "/api/v1/locks/questions", gin.H{"examType": "JEE", "ids": []string{"a"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.UpdateResult{Matched: 1, Modified: 1}, decode[models.UpdateResult](t, w))

	w = s.do(t, http.MethodPost, "/api/v1/papers/assemble", gin.H{
		"examType": "JEE", "subjectSelections": gin.H{"phy": gin.H{"mcq": 5}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	paper := decode[exam.Paper](t, w)
	assert.Equal(t, 2, paper.Claimed)
	assert.Empty(t, paper.Conflicts)
	for _, q := range paper.Questions {
		assert.NotEqual(t, "a", q.ID)
	}

	w = s.do(t, http.MethodGet, "/api/v1/locks?examType=JEE&subjectId=phy&topicName=Kinematics", nil)
	assert.Equal(t, models.LockCount{LockedCount: 3, TotalCount: 3}, decode[models.LockCount](t, w))
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/questions/ingest", ingestBody("JEE", "q1")).Code)

	w := s.do(t, http.MethodPost, "/api/v1/questions/ingest", ingestBody("JEE", "q9", "q1"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, []any{"q1"}, decode[map[string]any](t, w)["ids"])

	w = s.do(t, http.MethodPost, "/api/v1/questions/ingest", ingestBody("CAT", "z1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "examType", decode[map[string]any](t, w)["field"])

	w = s.do(t, http.MethodPost, "/api/v1/selections/random", gin.H{
		"examType": "NEET", "subjectSelections": gin.H{"bio": gin.H{"mcq": 1}},
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code, "NEET has no store configured")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/selections/difficulty", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type downProvider struct{}

func (downProvider) Get(_ context.Context, key examtype.Key) (store.Store, error) {
	return nil, &models.TransientError{Op: "connect " + string(key), Err: context.DeadlineExceeded}
}

func TestTransientIsRetryable(t *testing.T) {
	engine := gin.New()
	Register(engine, newDeps(downProvider{}, nil, ""), nil, nil)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats?examType=NEET", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, retryAfterSeconds, w.Header().Get("Retry-After"))
}

func TestAdminStoresAndBatchFile(t *testing.T) {
	router := db.NewRouter(
		map[examtype.Key]config.StoreConfig{examtype.JEE: {Driver: "memory"}, examtype.NEET: {Driver: "memory"}},
		db.NewOpener(discard),
		db.RouterOptions{Logger: discard},
	)
	t.Cleanup(func() { router.Close(context.Background()) })
	dir := t.TempDir()
	engine := gin.New()
	Register(engine, newDeps(router, router, dir), nil, nil)
	s := &testServer{engine: engine, router: router}

	batch := `
examType: neet ug
subjectId: bio
subjectName: Biology
topicId: cell
topicName: Cell
questions:
  - question_no: 1
    question: Powerhouse of the cell?
    question_type: mcq
    difficulty: easy
    options: {A: Nucleus, B: Mitochondria, C: Ribosome, D: Golgi}
    correct_answer: B
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bio.yaml"), []byte(batch), 0o600))

	w := s.do(t, http.MethodPost, "/admin/ingest/files/bio.yaml", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "NEET", decode[ingestion.Result](t, w).ExamType)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/admin/ingest/files/.env", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/admin/ingest/files/missing.json", nil).Code)

	type status struct {
		Stores []db.StoreStatus `json:"stores"`
	}
	st := decode[status](t, s.do(t, http.MethodGet, "/admin/stores", nil))
	require.Len(t, st.Stores, 2)
	assert.Equal(t, "JEE", st.Stores[0].ExamType)
	assert.False(t, st.Stores[0].Connected)
	assert.True(t, st.Stores[1].Connected)

	st = decode[status](t, s.do(t, http.MethodPost, "/admin/stores/reset", nil))
	for _, ss := range st.Stores {
		assert.False(t, ss.Connected)
	}
}
