package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/wricardo/fastws/envelope"
)

// Config controls a benchmark run.
type Config struct {
	URL      string
	Clients  int
	Messages int
	Event    string
	Delay    time.Duration
	Verbose  bool
}

// Probe is the payload each client sends and expects echoed back.
type Probe struct {
	Client int   `json:"client"`
	Seq    int   `json:"seq"`
	SentAt int64 `json:"sent_at"`
}

// Report summarizes a run.
type Report struct {
	Clients   int
	Failed    int
	Sent      int
	Received  int
	Elapsed   time.Duration
	latencies []time.Duration
}

func (r *Report) percentile(p float64) time.Duration {
	if len(r.latencies) == 0 {
		return 0
	}
	idx := int(float64(len(r.latencies)-1) * p)
	return r.latencies[idx]
}

// Mean returns the average round trip.
func (r *Report) Mean() time.Duration {
	if len(r.latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range r.latencies {
		total += l
	}
	return total / time.Duration(len(r.latencies))
}

func (r *Report) String() string {
	if len(r.latencies) == 0 {
		return fmt.Sprintf("clients=%d failed=%d sent=%d received=%d elapsed=%s",
			r.Clients, r.Failed, r.Sent, r.Received, r.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("clients=%d failed=%d sent=%d received=%d elapsed=%s rtt min=%s avg=%s p50=%s p99=%s max=%s",
		r.Clients, r.Failed, r.Sent, r.Received, r.Elapsed.Round(time.Millisecond),
		r.latencies[0], r.Mean(), r.percentile(0.50), r.percentile(0.99), r.latencies[len(r.latencies)-1])
}

// clientResult is what a single client reports back.
type clientResult struct {
	sent      int
	latencies []time.Duration
}

// Run connects cfg.Clients sessions concurrently and has each send
// cfg.Messages probes. Client failures are counted in the report; Run only
// returns an error when the context is cancelled.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	if cfg.Clients <= 0 || cfg.Messages <= 0 {
		return nil, errors.New("clients and messages must be positive")
	}
	if cfg.Event == "" {
		cfg.Event = "echo"
	}

	var (
		mu     sync.Mutex
		report = &Report{Clients: cfg.Clients}
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Clients; i++ {
		id := i
		g.Go(func() error {
			res, err := runClient(gctx, cfg, id)

			mu.Lock()
			defer mu.Unlock()
			report.Sent += res.sent
			report.Received += len(res.latencies)
			report.latencies = append(report.latencies, res.latencies...)
			if err != nil {
				report.Failed++
				if cfg.Verbose {
					log.Printf("client %d failed: %v", id, err)
				}
			}
			// Client failures must not cancel the others
			return nil
		})
	}
	g.Wait()

	report.Elapsed = time.Since(start)
	sort.Slice(report.latencies, func(i, j int) bool { return report.latencies[i] < report.latencies[j] })

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func runClient(ctx context.Context, cfg Config, id int) (clientResult, error) {
	var res clientResult

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return res, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unblock reads when the run is cancelled
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := awaitHandshake(conn); err != nil {
		return res, err
	}

	codec := envelope.Default
	for seq := 0; seq < cfg.Messages; seq++ {
		frame, err := codec.EncodeEvent(cfg.Event, Probe{Client: id, Seq: seq, SentAt: time.Now().UnixNano()})
		if err != nil {
			return res, err
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return res, fmt.Errorf("write probe %d: %w", seq, err)
		}
		res.sent++

		rtt, err := awaitEcho(conn, codec, cfg.Event, id, seq)
		if err != nil {
			return res, err
		}
		res.latencies = append(res.latencies, rtt)

		if cfg.Delay > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(cfg.Delay):
			}
		}
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return res, nil
}

func awaitHandshake(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("await handshake: %w", err)
	}
	msg, err := envelope.Decode(data)
	if err != nil {
		return fmt.Errorf("await handshake: %w", err)
	}
	if msg.Kind != envelope.KindHandshake {
		return fmt.Errorf("await handshake: unexpected %s frame", msg.Kind)
	}
	return nil
}

// awaitEcho reads until the probe (id, seq) comes back, skipping other frames
// such as broadcasts from other clients.
func awaitEcho(conn *websocket.Conn, codec *envelope.Codec, event string, id, seq int) (time.Duration, error) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return 0, fmt.Errorf("await echo %d: %w", seq, err)
		}
		msg, err := envelope.Decode(data)
		if err != nil || msg.Kind != envelope.KindEvent || msg.Event != event {
			continue
		}
		var p Probe
		if err := codec.Unmarshal(msg, &p); err != nil {
			continue
		}
		if p.Client == id && p.Seq == seq {
			return time.Since(time.Unix(0, p.SentAt)), nil
		}
	}
}
