package detect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"proctor-stream/internal/frame"
	"proctor-stream/internal/model"
)

const (
	DefaultRemoteTimeout = 2 * time.Second
	maxRemoteReply       = 1 << 20
)

var ErrRemoteStatus = errors.New("remote detector returned non-2xx status")

type RemoteConfig struct {
	Name    string
	URL     string
	Timeout time.Duration

	// Breaker trips after this many consecutive failures and stays open for
	// OpenTimeout before letting a probe request through.
	FailureThreshold uint32
	OpenTimeout      time.Duration

	Client *http.Client
}

// Remote posts each frame as image/jpeg to an external analysis service and
// maps its reply, {"events":[{"event":"Face not detected"}]}, to events.
type Remote struct {
	cfg     RemoteConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]model.Event]
}

type remoteReply struct {
	Events []struct {
		Event string `json:"event"`
		Type  string `json:"type,omitempty"`
	} `json:"events"`
}

func NewRemote(cfg RemoteConfig) *Remote {
	if cfg.Name == "" {
		cfg.Name = "remote"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRemoteTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	threshold := cfg.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker[[]model.Event](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
	return &Remote{cfg: cfg, client: client, breaker: breaker}
}

func (r *Remote) Name() string { return r.cfg.Name }

// State reports the breaker state, e.g. "closed" or "open".
func (r *Remote) State() string { return r.breaker.State().String() }

func (r *Remote) Detect(ctx context.Context, f *frame.Frame) ([]model.Event, error) {
	return r.breaker.Execute(func() ([]model.Event, error) {
		return r.call(ctx, f)
	})
}

func (r *Remote) call(ctx context.Context, f *frame.Frame) ([]model.Event, error) {
	body, err := jpegBytes(f)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrRemoteStatus, resp.StatusCode)
	}

	var reply remoteReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRemoteReply)).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode remote reply: %w", err)
	}

	events := make([]model.Event, 0, len(reply.Events))
	for _, e := range reply.Events {
		if e.Event == "" {
			continue
		}
		ev := model.NewEvent(e.Event, f.ReceivedAt)
		if e.Type != "" {
			ev.Kind = e.Type
		}
		events = append(events, ev)
	}
	return events, nil
}

func jpegBytes(f *frame.Frame) ([]byte, error) {
	if f.Format == "jpeg" && len(f.Raw) > 0 {
		return f.Raw, nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
