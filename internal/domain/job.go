package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

type CreateJobRequest struct {
	SourceType string `json:"source_type"`
	ObjectKey  string `json:"object_key,omitempty"`
	OutputKey  string `json:"output_key,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

type Job struct {
	ID         string
	Status     string
	SourceType string
	WebhookURL string
	ObjectKey  string
	OutputKey  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	// The converted screenshot must never replace its source.
	if out := strings.TrimSpace(r.OutputKey); out != "" && out == strings.TrimSpace(r.ObjectKey) {
		return errors.New("output_key must differ from object_key")
	}
	if hook := strings.TrimSpace(r.WebhookURL); hook != "" {
		u, err := url.Parse(hook)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return errors.New("webhook_url must be an absolute http or https URL")
		}
	}
	return nil
}

// StartableStatus reports whether a job in the given status may be queued.
// Failed jobs may be retried; jobs already in flight or finished must not be
// enqueued a second time.
func StartableStatus(status string) bool {
	return status == JobStatusCreated || status == JobStatusFailed
}
