package content

import "time"

type UpsertNotebookPayload struct {
	DeviceID     string     `json:"device_id" validate:"required"`
	Title        string     `json:"title" mod:"trim" validate:"required"`
	Path         string     `json:"path" validate:"required"`
	PageCount    int        `json:"page_count" validate:"min=0"`
	LastOpenedAt *time.Time `json:"last_opened_at,omitempty"`
}

type RegisterPagePayload struct {
	NotebookID int `json:"notebook_id" validate:"required"`
	PageNumber int `json:"page_number" validate:"min=1"`
}

type CompletePagePayload struct {
	NotebookID int    `json:"notebook_id" validate:"required"`
	PageNumber int    `json:"page_number" validate:"min=1"`
	Text       string `json:"text"`
}

type CreateTodoPayload struct {
	NotebookID int    `json:"notebook_id" validate:"required"`
	PageNumber int    `json:"page_number" validate:"min=1"`
	Text       string `json:"text" mod:"trim" validate:"required"`
	Checked    bool   `json:"checked"`
}

type UpdateTodoPayload struct {
	Text    *string `json:"text,omitempty"`
	Checked *bool   `json:"checked,omitempty"`
}

type CreateHighlightPayload struct {
	NotebookID int     `json:"notebook_id" validate:"required"`
	PageNumber int     `json:"page_number" validate:"min=1"`
	Text       string  `json:"text" mod:"trim" validate:"required"`
	Color      *string `json:"color,omitempty"`
}
