package services

import "time"

// Config carries the campaign engine's tunables. Defaults mirror the chat
// platform's attachment limits and the community's house rules.
type Config struct {
	// SuperUser is the chat account allowed to unclaim on behalf of others,
	// mark anything impossible, and invalidate.
	SuperUser string
	// DefaultCar substitutes for a missing player-model reference.
	DefaultCar string
	// ClaimCooldown is how long a claimant must hold a combination before
	// they may mark it impossible.
	ClaimCooldown time.Duration

	// MaxBatchFiles caps how many entries a submitted bundle may contain.
	MaxBatchFiles int
	// MaxFileSize caps a single submitted file, and each entry of a bundle.
	MaxFileSize int64

	// ArchiveSizeLimit cuts a car's dump archive into numbered parts.
	ArchiveSizeLimit int64
	// DumpSizeLimit skips bundling entirely when the combined payload size
	// across all cars exceeds it.
	DumpSizeLimit int64

	// Channel ids for the engine's announcements.
	StatusChannelID     string
	NewsChannelID       string
	CompletionChannelID string

	// CampaignBaseURL is the public page linked from news posts.
	CampaignBaseURL string
}

// DefaultConfig returns the stock configuration
func DefaultConfig() Config {
	return Config{
		DefaultCar:       "CarSport",
		ClaimCooldown:    time.Hour,
		MaxBatchFiles:    20,
		MaxFileSize:      8 << 20,  // 8 MiB per file
		ArchiveSizeLimit: 24 << 20, // 24 MiB per archive
		DumpSizeLimit:    200 << 20,
	}
}
