package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// ItemType classifies a dashboard item.
type ItemType string

const (
	TypeNote     ItemType = "note"
	TypeTask     ItemType = "task"
	TypeLink     ItemType = "link"
	TypeReminder ItemType = "reminder"
)

// Color is the accent colour an item is rendered with.
type Color string

const (
	ColorBlue   Color = "blue"
	ColorGreen  Color = "green"
	ColorRed    Color = "red"
	ColorYellow Color = "yellow"
	ColorPurple Color = "purple"
	ColorOrange Color = "orange"
)

const (
	MaxTitleLength       = 255
	MaxDescriptionLength = 2000
)

// Valid reports whether t is one of the known item types.
func (t ItemType) Valid() bool {
	switch t {
	case TypeNote, TypeTask, TypeLink, TypeReminder:
		return true
	}
	return false
}

// Valid reports whether c is one of the known colours.
func (c Color) Valid() bool {
	switch c {
	case ColorBlue, ColorGreen, ColorRed, ColorYellow, ColorPurple, ColorOrange:
		return true
	}
	return false
}

// Item represents a single dashboard entry owned by one user.
type Item struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        ItemType  `json:"type"`
	Color       Color     `json:"color"`
	IsPinned    bool      `json:"is_pinned"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ItemInput carries the fields accepted when creating an item.
type ItemInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Type        ItemType `json:"type"`
	Color       Color    `json:"color"`
}

// Validate checks the input against the same rules applied to updates.
func (in ItemInput) Validate() error {
	if err := validateTitle(in.Title); err != nil {
		return err
	}
	if err := validateDescription(in.Description); err != nil {
		return err
	}
	if !in.Type.Valid() {
		return NewValidationError("type", "must be one of note, task, link, reminder")
	}
	if !in.Color.Valid() {
		return NewValidationError("color", "must be one of blue, green, red, yellow, purple, orange")
	}
	return nil
}

// ItemPatch carries a partial update. Nil fields are left untouched.
type ItemPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Type        *ItemType `json:"type,omitempty"`
	Color       *Color    `json:"color,omitempty"`
	IsPinned    *bool     `json:"is_pinned,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ItemPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Type == nil && p.Color == nil && p.IsPinned == nil
}

// Validate checks every supplied field.
func (p ItemPatch) Validate() error {
	if p.Title != nil {
		if err := validateTitle(*p.Title); err != nil {
			return err
		}
	}
	if p.Description != nil {
		if err := validateDescription(*p.Description); err != nil {
			return err
		}
	}
	if p.Type != nil && !p.Type.Valid() {
		return NewValidationError("type", "must be one of note, task, link, reminder")
	}
	if p.Color != nil && !p.Color.Valid() {
		return NewValidationError("color", "must be one of blue, green, red, yellow, purple, orange")
	}
	return nil
}

// Apply copies the supplied fields onto item.
func (p ItemPatch) Apply(item *Item) {
	if p.Title != nil {
		item.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		item.Description = *p.Description
	}
	if p.Type != nil {
		item.Type = *p.Type
	}
	if p.Color != nil {
		item.Color = *p.Color
	}
	if p.IsPinned != nil {
		item.IsPinned = *p.IsPinned
	}
}

func validateTitle(title string) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return NewValidationError("title", "is required")
	}
	if utf8.RuneCountInString(trimmed) > MaxTitleLength {
		return NewValidationError("title", "must be at most 255 characters")
	}
	return nil
}

func validateDescription(desc string) error {
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return NewValidationError("description", "must be at most 2000 characters")
	}
	return nil
}
