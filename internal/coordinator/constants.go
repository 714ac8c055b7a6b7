package coordinator

import "time"

const (
	// HeartbeatInterval is how often a live instance refreshes its
	// instances/<id> TTL file (spec §4.6 Election).
	HeartbeatInterval = 1 * time.Second
	// InstanceTTL is how stale an instance's heartbeat file may get before
	// it is no longer considered live.
	InstanceTTL = 10 * time.Second
	// LeaseDuration is how long a claimed leadership lease is valid before
	// it must be renewed.
	LeaseDuration = 5 * time.Second
	// WriteQueueTimeout is the bounded wait a follower's Forward call gives
	// the leader to answer a forwarded write (spec §4.6 WriteQueue).
	WriteQueueTimeout = 30 * time.Second
	// ExclusiveLockTimeout bounds export/import's acquire of the
	// per-database exclusive lock (spec §4.5, §5 "30s timeout").
	ExclusiveLockTimeout = 30 * time.Second
	// lockPollInterval is how often withLock retries acquiring the
	// coordination scope's flock while waiting.
	lockPollInterval = 20 * time.Millisecond
	// pollInterval is how often Notifier subscribers and WriteQueue
	// followers poll for new files.
	pollInterval = 50 * time.Millisecond
)
