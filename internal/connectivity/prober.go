package connectivity

import (
	"context"
	"net/http"
	"time"

	"geotrail/syncd/internal/logging"
)

// Prober periodically checks that the remote endpoint answers and feeds the result
// into an Observer. Any HTTP response counts as reachable.
type Prober struct {
	URL      string
	Interval time.Duration
	Client   *http.Client
	Observer *Observer
}

func NewProber(url string, interval time.Duration, observer *Observer) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Prober{
		URL:      url,
		Interval: interval,
		Client:   &http.Client{Timeout: 5 * time.Second},
		Observer: observer,
	}
}

// Probe performs one reachability check and updates the observer.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		logging.Error("Invalid probe URL", "url", p.URL, "error", err)
		return p.Observer.Online()
	}

	online := true
	resp, err := p.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return p.Observer.Online()
		}
		logging.Debug("Connectivity probe failed", "url", p.URL, "error", err)
		online = false
	} else {
		resp.Body.Close()
	}

	p.Observer.SetOnline(online)
	return online
}

// Serve probes until ctx is cancelled.
func (p *Prober) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

func (p *Prober) String() string {
	return "connectivity-prober"
}
