package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamPayloadKey returns the cache key for an exam definition fetched from the backend
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ExamEligibleKey marks that the backend accepted a user for an exam
func (r *CacheKeyStruct) ExamEligibleKey(examID, userID string) string {
	return fmt.Sprintf("exam:%s:eligible:%s", examID, userID)
}

// ExamEligiblePattern matches every eligibility marker of an exam
func (r *CacheKeyStruct) ExamEligiblePattern(examID string) string {
	return fmt.Sprintf("exam:%s:eligible:*", examID)
}

// StudentActiveSessionKey returns the key holding a student's running session for an exam
func (r *CacheKeyStruct) StudentActiveSessionKey(examID, userID string) string {
	return fmt.Sprintf("student:%s:exam:%s:active_session", userID, examID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
