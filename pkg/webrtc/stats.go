package webrtc

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/rescp17/peerCall/pkg/session"
)

// TrackStats counts what arrived for one media kind.
type TrackStats struct {
	Packets uint64
	Bytes   uint64
	Lost    uint64
}

// RTPStats is a RemoteSink that keeps per-kind packet counters.
// Gaps in sequence numbers are counted as lost.
type RTPStats struct {
	mu      sync.Mutex
	byKind  map[session.MediaKind]TrackStats
	lastSeq map[uint32]uint16
}

func NewRTPStats() *RTPStats {
	return &RTPStats{
		byKind:  make(map[session.MediaKind]TrackStats),
		lastSeq: make(map[uint32]uint16),
	}
}

func (s *RTPStats) WriteRTP(kind session.MediaKind, pkt *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.byKind[kind]
	st.Packets++
	st.Bytes += uint64(len(pkt.Payload))
	if last, ok := s.lastSeq[pkt.SSRC]; ok {
		if gap := pkt.SequenceNumber - last; gap > 1 && gap < 1<<15 {
			st.Lost += uint64(gap - 1)
		}
	}
	s.lastSeq[pkt.SSRC] = pkt.SequenceNumber
	s.byKind[kind] = st
}

func (s *RTPStats) Snapshot() map[session.MediaKind]TrackStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[session.MediaKind]TrackStats, len(s.byKind))
	for k, v := range s.byKind {
		out[k] = v
	}
	return out
}

func (s *RTPStats) Reset() {
	s.mu.Lock()
	s.byKind = make(map[session.MediaKind]TrackStats)
	s.lastSeq = make(map[uint32]uint16)
	s.mu.Unlock()
}
