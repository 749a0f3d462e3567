package models

import (
	"strings"
)

// Field names understood by the extraction pipeline.
const (
	FieldTitle       = "title"
	FieldAvgRating   = "avg_rating"
	FieldRatingCount = "rating_count"
	FieldAddress     = "address"
	FieldCity        = "city"
	FieldArea        = "area"
	FieldWebsite     = "website"
	FieldPhone       = "phone"
	FieldCategory    = "category"
	FieldImages      = "images"
)

// DefaultFields is used when a request does not name any fields.
var DefaultFields = []string{
	FieldTitle,
	FieldAvgRating,
	FieldRatingCount,
	FieldAddress,
	FieldWebsite,
	FieldPhone,
	FieldImages,
}

// Task is one detail-page link plus the fields requested from it.
// A Task must not be modified once it has been handed to a runner.
type Task struct {
	URL    string   `json:"url"`
	Fields []string `json:"fields"`
}

// NewTask trims the link and normalizes the field set.
func NewTask(url string, fields []string) Task {
	return Task{
		URL:    strings.TrimSpace(url),
		Fields: NormalizeFields(fields),
	}
}

// Wants reports whether the task requested the given field.
func (t Task) Wants(field string) bool {
	for _, f := range t.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// TasksFromLinks builds one task per link, all sharing the same field set.
func TasksFromLinks(links []string, fields []string) []Task {
	normalized := NormalizeFields(fields)
	tasks := make([]Task, 0, len(links))
	for _, link := range links {
		tasks = append(tasks, Task{URL: strings.TrimSpace(link), Fields: normalized})
	}
	return tasks
}

// NormalizeFields trims names, drops empties and duplicates and keeps the
// first-seen order.
func NormalizeFields(fields []string) []string {
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// ParseFields splits a comma separated field list. An empty list yields
// DefaultFields.
func ParseFields(s string) []string {
	fields := NormalizeFields(strings.Split(s, ","))
	if len(fields) == 0 {
		return append([]string(nil), DefaultFields...)
	}
	return fields
}

// Record holds one string value per requested field. Absent data is "".
type Record map[string]string

// NewRecord returns a record with every field set to "".
func NewRecord(fields []string) Record {
	r := make(Record, len(fields))
	for _, f := range fields {
		r[f] = ""
	}
	return r
}

// Project returns a copy of r restricted to exactly the given fields.
// Missing keys are filled with "" and keys outside fields are dropped.
func (r Record) Project(fields []string) Record {
	out := NewRecord(fields)
	for _, f := range fields {
		if v, ok := r[f]; ok {
			out[f] = v
		}
	}
	return out
}

// IsEmpty reports whether every value in the record is "".
func (r Record) IsEmpty() bool {
	for _, v := range r {
		if v != "" {
			return false
		}
	}
	return true
}
