package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTemplateNotFound reports a lookup miss. Callers treat it as a
	// signal, not a failure.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrDuplicateCode reports a create/update with an already-used code.
	ErrDuplicateCode = errors.New("template code already exists")
)

// Template is a stored reusable reply, addressed by a short code.
// Codes are stored uppercase and matched case-insensitively.
type Template struct {
	ID            int64     `json:"id"`
	Code          string    `json:"code"`
	Title         string    `json:"title,omitempty"`
	Content       string    `json:"content"`
	Description   string    `json:"description,omitempty"`
	MediaData     string    `json:"mediaData,omitempty"` // base64
	MediaMimetype string    `json:"mediaMimetype,omitempty"`
	MediaFilename string    `json:"mediaFilename,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// HasMedia reports whether the template carries an attachment.
func (t *Template) HasMedia() bool { return t.MediaData != "" }

// TemplateStore manages chat templates.
type TemplateStore interface {
	Create(ctx context.Context, t *Template) (int64, error)
	ByID(ctx context.Context, id int64) (*Template, error)
	// ByCode returns the active template for code (case-insensitive),
	// or ErrTemplateNotFound.
	ByCode(ctx context.Context, code string) (*Template, error)
	List(ctx context.Context, activeOnly bool) ([]Template, error)
	Update(ctx context.Context, t *Template) error
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
}
