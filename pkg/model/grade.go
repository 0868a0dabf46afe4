package model

// GradeDecision is the structured relevance verdict for one evidence set.
// Transient: only its effect on the retry counter is persisted.
type GradeDecision struct {
	IsRelevant bool   `json:"is_relevant"`
	Reason     string `json:"reason"`
}
