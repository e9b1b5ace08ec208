package webrtcpeer

const (
	// DataChannelLabelLatency carries the heartbeat: the receiver sends
	// timestamps and the sender echoes each one back.
	DataChannelLabelLatency = "latency"

	// DataChannelLabelMetadata carries stream geometry announcements.
	DataChannelLabelMetadata = "metadata"
)
