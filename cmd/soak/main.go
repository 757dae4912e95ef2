package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/veloce-lang/csp/egress"
	"github.com/veloce-lang/csp/handle"
	"github.com/veloce-lang/csp/internal"
	"github.com/veloce-lang/csp/telemetry"
)

const (
	bufferedCapacity = 1024
	numProducers     = 8
	numConsumers     = 8
)

type channelLoad struct {
	name string
	h    handle.Handle

	sends    atomic.Int64
	receives atomic.Int64
}

func main() {
	ctx, cancelCtx := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancelCtx()

	telemetry.Init(ctx, "csp-soak")
	defer telemetry.Close()

	l := internal.NewLogger("soak", "harness")

	stats := internal.NewStats(l)
	go stats.RunStats(ctx)

	table := handle.NewTable()

	loads := []*channelLoad{
		{name: "buffered", h: table.Create(bufferedCapacity)},
		{name: "rendezvous", h: table.Create(0)},
	}

	wg := &sync.WaitGroup{}

	for _, load := range loads {
		load := load
		for i := 0; i < numProducers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()

				value := 0.0
				for ctx.Err() == nil {
					if table.Send(load.h, value) != handle.StatusOK {
						return
					}

					load.sends.Add(1)
					stats.IncrementSendCount()
					value++
				}
			}()
		}

		for i := 0; i < numConsumers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()

				for {
					if _, ok := table.Recv2(load.h); !ok {
						return
					}

					load.receives.Add(1)
					stats.IncrementRecvCount()
				}
			}()
		}
	}

	samplerDone := make(chan struct{})

	qdbEgress := egress.NewQuestDB(egress.NewDefaultQuestDBConfig())
	if err := qdbEgress.Init(ctx); err != nil {
		l.Error("failed to init quest db egress, samples disabled", err)
		qdbEgress = nil
		close(samplerDone)
	} else {
		go func() {
			defer close(samplerDone)
			runSampler(ctx, l, qdbEgress, table, loads)
		}()
	}

	<-ctx.Done()

	for _, load := range loads {
		table.Close(load.h)
	}

	wg.Wait()

	for _, load := range loads {
		l.Info("channel drained",
			"channel", load.name,
			"sends", load.sends.Load(),
			"receives", load.receives.Load(),
		)

		table.Destroy(load.h)
	}

	<-samplerDone

	if qdbEgress != nil {
		qdbEgress.Stop()
	}
}

func runSampler(ctx context.Context, l *internal.Logger, e *egress.QuestDB, table *handle.Table, loads []*channelLoad) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			timestamp := time.Now()

			for _, load := range loads {
				sample := &egress.Sample{
					Channel:   load.name,
					Sends:     load.sends.Load(),
					Receives:  load.receives.Load(),
					Depth:     int64(table.Len(load.h)),
					Timestamp: timestamp,
				}

				if err := e.Deliver(ctx, sample); err != nil {
					l.Error("failed to deliver sample", err, "channel", load.name)
				}
			}
		}
	}
}
