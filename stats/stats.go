// Package stats aggregates dashboard statistics over one exam's questions.
package stats

import (
	"sort"
	"time"

	"qbank-server/models"
	"qbank-server/store"
)

// ActivityDays is the length of the recent-activity histogram.
const ActivityDays = 30

// TopicStat is one topic row. Topics known only from counter records show up with zero counts.
type TopicStat struct {
	SubjectID         string            `json:"subjectId"`
	SubjectName       string            `json:"subjectName"`
	TopicID           string            `json:"topicId"`
	TopicName         string            `json:"topicName"`
	Count             int               `json:"count"`
	Locked            int               `json:"locked"`
	AverageDifficulty models.Difficulty `json:"averageDifficulty"`
}

// SubjectStat is one subject row.
type SubjectStat struct {
	SubjectID   string `json:"subjectId"`
	SubjectName string `json:"subjectName"`
	Count       int    `json:"count"`
	Locked      int    `json:"locked"`
	TopicCount  int    `json:"topicCount"`
}

// Bucket is one bar of a distribution.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Summary holds the headline numbers.
type Summary struct {
	TotalQuestions    int `json:"totalQuestions"`
	LockedQuestions   int `json:"lockedQuestions"`
	UnlockedQuestions int `json:"unlockedQuestions"`
	TotalSubjects     int `json:"totalSubjects"`
	TotalTopics       int `json:"totalTopics"`
	TotalSubtopics    int `json:"totalSubtopics"`
}

// Stats is the full dashboard payload for one exam.
type Stats struct {
	ExamType                 string              `json:"examType"`
	Topics                   []TopicStat         `json:"topics"`
	Subjects                 []SubjectStat       `json:"subjects"`
	DifficultyDistribution   []Bucket            `json:"difficultyDistribution"`
	QuestionTypeDistribution []Bucket            `json:"questionTypeDistribution"`
	RecentActivity           []models.DailyCount `json:"recentActivity"`
	Summary                  Summary             `json:"summary"`
	GeneratedAt              time.Time           `json:"generatedAt"`
}

// Since returns the first day (UTC midnight) of the activity window ending on now.
func Since(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(ActivityDays - 1))
}

type topicKey struct{ subjectID, topicID string }

type topicAcc struct {
	TopicStat
	weight int
}

// Build folds grouped counts, counter records and daily counts into Stats. It does no I/O.
func Build(examType string, rows []store.GroupCount, counters store.Counters, daily []models.DailyCount, now time.Time) Stats {
	st := Stats{ExamType: examType, GeneratedAt: now.UTC()}

	topics := map[topicKey]*topicAcc{}
	subjects := map[string]*SubjectStat{}
	subjectTopics := map[string]map[string]bool{}
	byDifficulty := map[models.Difficulty]int{}
	byType := map[models.QuestionType]int{}

	for _, r := range rows {
		tk := topicKey{r.SubjectID, r.TopicID}
		t, ok := topics[tk]
		if !ok {
			t = &topicAcc{TopicStat: TopicStat{SubjectID: r.SubjectID, SubjectName: r.SubjectName, TopicID: r.TopicID, TopicName: r.TopicName}}
			topics[tk] = t
		}
		t.Count += r.Count
		t.weight += r.Difficulty.Weight() * r.Count

		s, ok := subjects[r.SubjectID]
		if !ok {
			s = &SubjectStat{SubjectID: r.SubjectID, SubjectName: r.SubjectName}
			subjects[r.SubjectID] = s
			subjectTopics[r.SubjectID] = map[string]bool{}
		}
		s.Count += r.Count
		subjectTopics[r.SubjectID][r.TopicID] = true

		if r.Locked {
			t.Locked += r.Count
			s.Locked += r.Count
			st.Summary.LockedQuestions += r.Count
		}
		byDifficulty[r.Difficulty] += r.Count
		byType[r.QuestionType] += r.Count
		st.Summary.TotalQuestions += r.Count
	}

	for _, c := range counters.Topics {
		tk := topicKey{c.SubjectID, c.TopicID}
		if _, ok := topics[tk]; !ok {
			topics[tk] = &topicAcc{TopicStat: TopicStat{SubjectID: c.SubjectID, SubjectName: c.SubjectName, TopicID: c.TopicID, TopicName: c.Name}}
		}
	}
	for _, c := range counters.Subjects {
		if _, ok := subjects[c.SubjectID]; !ok {
			subjects[c.SubjectID] = &SubjectStat{SubjectID: c.SubjectID, SubjectName: c.Name}
		}
	}

	st.Topics = make([]TopicStat, 0, len(topics))
	for _, t := range topics {
		t.AverageDifficulty = models.DifficultyFromAverage(t.weight, t.Count)
		st.Topics = append(st.Topics, t.TopicStat)
	}
	sort.Slice(st.Topics, func(i, j int) bool {
		a, b := st.Topics[i], st.Topics[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		return a.TopicID < b.TopicID
	})

	st.Subjects = make([]SubjectStat, 0, len(subjects))
	for id, s := range subjects {
		s.TopicCount = len(subjectTopics[id])
		st.Subjects = append(st.Subjects, *s)
	}
	sort.Slice(st.Subjects, func(i, j int) bool {
		a, b := st.Subjects[i], st.Subjects[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.SubjectID < b.SubjectID
	})

	for _, d := range models.Difficulties {
		st.DifficultyDistribution = append(st.DifficultyDistribution, Bucket{Label: string(d), Count: byDifficulty[d]})
	}
	for _, qt := range models.QuestionTypes {
		st.QuestionTypeDistribution = append(st.QuestionTypeDistribution, Bucket{Label: string(qt), Count: byType[qt]})
	}

	st.RecentActivity = fillDays(daily, now)

	st.Summary.UnlockedQuestions = st.Summary.TotalQuestions - st.Summary.LockedQuestions
	st.Summary.TotalSubjects = len(st.Subjects)
	st.Summary.TotalTopics = len(st.Topics)
	st.Summary.TotalSubtopics = len(counters.Subtopics)
	return st
}

// fillDays returns one entry per day of the window, zero where nothing was ingested.
func fillDays(daily []models.DailyCount, now time.Time) []models.DailyCount {
	counts := make(map[string]int, len(daily))
	for _, d := range daily {
		counts[d.Date] += d.Count
	}
	start := Since(now)
	out := make([]models.DailyCount, ActivityDays)
	for i := range out {
		day := start.AddDate(0, 0, i).Format(time.DateOnly)
		out[i] = models.DailyCount{Date: day, Count: counts[day]}
	}
	return out
}
