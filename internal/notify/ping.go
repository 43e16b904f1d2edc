package notify

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	logx "tickd/pkg/logx"
)

// Pinger issues best-effort HTTP GETs for ping hooks.
//
// Failure policy (deliberate, not an accident): ping hooks are
// notifications, so a failed or rate-limited ping is logged at warn/debug
// and never aborts the run that triggered it.
type Pinger struct {
	client  *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewPinger(log logx.Logger) *Pinger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pinger{
		client: &http.Client{Timeout: 10 * time.Second},
		// A misbehaving schedule cannot flood a ping endpoint: a small
		// steady rate with room for a burst of tasks firing on the same
		// minute.
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		log:     log,
	}
}

func (p *Pinger) Ping(ctx context.Context, url string) {
	if !p.limiter.Allow() {
		p.log.Debug("ping dropped (rate limited)", logx.String("url", url))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.log.Warn("ping request invalid", logx.String("url", url), logx.Err(err))
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn("ping failed", logx.String("url", url), logx.Err(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		p.log.Warn("ping rejected", logx.String("url", url), logx.Int("status", resp.StatusCode))
	}
}
