package models

import "time"

// User is a chat or report participant known by id
type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// OptimizeType selects the template used for a prompt optimization
type OptimizeType string

const (
	OptimizeSystem           OptimizeType = "system"
	OptimizeUserBasic        OptimizeType = "user_basic"
	OptimizeUserProfessional OptimizeType = "user_professional"
	OptimizeIterate          OptimizeType = "iterate"
	OptimizeImage            OptimizeType = "image"
	OptimizeReport           OptimizeType = "report"
)

// PromptLog records one completed optimization
type PromptLog struct {
	ID              int64        `json:"id"`
	UserID          string       `json:"user_id"`
	OriginalPrompt  string       `json:"original_prompt"`
	OptimizedPrompt string       `json:"optimized_prompt"`
	OptimizeType    OptimizeType `json:"optimize_type"`
	CreatedAt       time.Time    `json:"created_at"`
}
