package domain

import "time"

// ToolInvocation 外部工具调用记录（只追加）
type ToolInvocation struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	BuildID     string    `gorm:"type:varchar(36);index:idx_build_id" json:"build_id"`
	Tool        string    `gorm:"type:varchar(32);not null" json:"tool"`
	CommandLine string    `gorm:"type:text" json:"command_line"`
	ExitCode    int       `json:"exit_code"`
	Stdout      string    `gorm:"type:mediumtext" json:"stdout,omitempty"`
	Stderr      string    `gorm:"type:mediumtext" json:"stderr,omitempty"`
	LaunchError string    `gorm:"type:text" json:"launch_error,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

func (ToolInvocation) TableName() string {
	return "tool_invocations"
}
