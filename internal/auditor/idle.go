package auditor

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// waitNetworkIdle returns a channel that is closed once no request has been
// in flight for idleAfter. kick arms the timer explicitly, for pages whose
// last request finished before the listener saw it.
func waitNetworkIdle(ctx context.Context, idleAfter time.Duration) (idle <-chan struct{}, kick func()) {
	ch := make(chan struct{})
	var (
		mu       sync.Mutex
		inflight = map[network.RequestID]struct{}{}
		timer    *time.Timer
		once     sync.Once
	)

	// arm must be called with mu held.
	arm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(idleAfter, func() {
			mu.Lock()
			quiet := len(inflight) == 0
			mu.Unlock()
			if quiet {
				once.Do(func() { close(ch) })
			}
		})
	}

	chromedp.ListenTarget(ctx, func(ev any) {
		mu.Lock()
		defer mu.Unlock()
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			// redirects reuse the request id, so a map keeps the count honest
			inflight[e.RequestID] = struct{}{}
		case *network.EventLoadingFinished:
			delete(inflight, e.RequestID)
			if len(inflight) == 0 {
				arm()
			}
		case *network.EventLoadingFailed:
			delete(inflight, e.RequestID)
			if len(inflight) == 0 {
				arm()
			}
		}
	})

	return ch, func() {
		mu.Lock()
		defer mu.Unlock()
		if len(inflight) == 0 {
			arm()
		}
	}
}
