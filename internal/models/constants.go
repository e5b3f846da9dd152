package models

const (
	// DateLayout is the wire and storage format of meal dates.
	DateLayout = "2006-01-02"

	ParseModeMarkdown = "Markdown"

	// DefaultMaxAdvanceDays bounds how far ahead a meal can be booked.
	DefaultMaxAdvanceDays = 14

	// DefaultBookingRateLimit is the number of booking requests per user per window.
	DefaultBookingRateLimit = 30

	// DefaultBookingRateWindow is the rate limit window in seconds.
	DefaultBookingRateWindow = 60

	// WorkerQueueSize is the in-memory queue size of the sync worker.
	WorkerQueueSize = 128
)
