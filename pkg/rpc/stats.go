package rpc

import "sync/atomic"

// Stats is a snapshot of one client's counters.
type Stats struct {
	RequestChannel    string `json:"requestChannel"`
	ReplyChannel      string `json:"replyChannel"`
	Consuming         bool   `json:"consuming"`
	Pending           int    `json:"pending"`
	Sent              int64  `json:"sent"`
	Resolved          int64  `json:"resolved"`
	TimedOut          int64  `json:"timedOut"`
	Canceled          int64  `json:"canceled"`
	Unmatched         int64  `json:"unmatched"`
	Malformed         int64  `json:"malformed"`
	DecodeFailures    int64  `json:"decodeFailures"`
	NullReplies       int64  `json:"nullReplies"`
	TransportFailures int64  `json:"transportFailures"`
}

type counters struct {
	sent              atomic.Int64
	resolved          atomic.Int64
	timedOut          atomic.Int64
	canceled          atomic.Int64
	unmatched         atomic.Int64
	malformed         atomic.Int64
	decodeFailures    atomic.Int64
	nullReplies       atomic.Int64
	transportFailures atomic.Int64
}

func (c *counters) snapshot(s *Stats) {
	s.Sent = c.sent.Load()
	s.Resolved = c.resolved.Load()
	s.TimedOut = c.timedOut.Load()
	s.Canceled = c.canceled.Load()
	s.Unmatched = c.unmatched.Load()
	s.Malformed = c.malformed.Load()
	s.DecodeFailures = c.decodeFailures.Load()
	s.NullReplies = c.nullReplies.Load()
	s.TransportFailures = c.transportFailures.Load()
}
