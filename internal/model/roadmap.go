package model

import "time"

// TaskStatus はロードマップタスクの進捗状態を表す。
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

// Valid は定義済みの状態かどうかを返す。
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
		return true
	}
	return false
}

// タスクのカテゴリ
const (
	TaskCategoryCareer     = "career"
	TaskCategoryUniversity = "university"
)

// RoadmapTask は診断結果から導出された行動計画の1項目を表す。
// 変更可能なのはStatusのみ。
type RoadmapTask struct {
	ID           string     `json:"id"`
	OwnerUserID  string     `json:"ownerUserId"`
	AssessmentID string     `json:"assessmentId"`
	Title        string     `json:"title"`
	Category     string     `json:"category"`
	Status       TaskStatus `json:"status"`
	Position     int        `json:"position"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}
