package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AssessmentKey returns the cache key for an assessment record
func (r *CacheKeyStruct) AssessmentKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s", assessmentID)
}

// AssessmentQuestionsKey returns the cache key for an assessment's ordered questions
func (r *CacheKeyStruct) AssessmentQuestionsKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:questions", assessmentID)
}

// AssessmentStatusChannel returns the Redis PubSub channel announcing status changes
func (r *CacheKeyStruct) AssessmentStatusChannel(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:status", assessmentID)
}

// AttemptAnswersKey returns the cache key for an attempt's unflushed answer snapshot
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// AttemptFinalKey returns the cache key marking an attempt as finalized
func (r *CacheKeyStruct) AttemptFinalKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:final", attemptID)
}

// StudentAttemptStartKey returns the cache key for a student's attempt start time
func (r *CacheKeyStruct) StudentAttemptStartKey(assessmentID string, studentID int) string {
	return fmt.Sprintf("student:%d:assessment:%s:started_at", studentID, assessmentID)
}

var CacheKey = NewCacheKeyStruct()
