package internal

import (
	"context"
	"sync/atomic"
	"time"
)

// Stats tracks channel traffic and logs a per-second rate report.
type Stats struct {
	l *Logger

	sendCount atomic.Uint64
	recvCount atomic.Uint64
}

func NewStats(l *Logger) *Stats {
	return &Stats{
		l: l,
	}
}

func (s *Stats) RunStats(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sendCount := s.sendCount.Load()
			recvCount := s.recvCount.Load()

			if sendCount == 0 && recvCount == 0 {
				continue
			}

			s.sendCount.Store(0)
			s.recvCount.Store(0)

			s.l.Info("stats", "sends_per_sec", sendCount, "receives_per_sec", recvCount)
		}
	}
}

func (s *Stats) IncrementSendCount() {
	s.sendCount.Add(1)
}

func (s *Stats) IncrementRecvCount() {
	s.recvCount.Add(1)
}
