package domain

import "time"

type UsageLog struct {
	JobID           string
	PixelsConverted int64
	BytesWritten    int64
	ChunksCarried   int64
	ChunksReused    int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
