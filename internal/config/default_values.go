package config

const (
	DefaultAgentID = "agent"

	DefaultDiffMaxLines = 400
	DefaultDiffMaxBytes = 64 * 1024

	DefaultWatchDebounceMS = 200
)
