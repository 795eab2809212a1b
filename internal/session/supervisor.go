package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradepipe/internal/model"
	"tradepipe/pkg/bus"
	"tradepipe/pkg/logger"
)

// Readiness markers the launcher (or a human) drops on the bus.
const (
	BrowserReadyKey = "browser_ready.txt"
	LoginReadyKey   = "login_ready.txt"
)

const reacquireDelay = 15 * time.Second

// extractRowsJS pulls the full quote table out of the dashboard DOM. Rows
// without a symbol or with a non-positive last price are dropped at the
// source.
const extractRowsJS = `
Array.from(document.querySelectorAll('tbody tr')).map(tr => {
    const tds = tr.querySelectorAll('td');
    if (tds.length < 8) return null;
    const txt = i => (tds[i]?.innerText || '').replace(/,/g, '').trim();
    const num = i => parseFloat(txt(i)) || 0;
    return {
        sym: txt(0),
        ltp: num(1),
        pct: num(2),
        open: num(3),
        high: num(4),
        low: num(5),
        close: num(6),
        vol: num(7) || 0
    };
}).filter(x => x && x.sym && x.ltp > 0)`

// clickRefreshJS tries the dashboard's refresh affordances and reports
// whether any of them was clicked.
const clickRefreshJS = `
(() => {
    const sels = ['button .fa-sync', 'button .fa-redo', '.refresh-icon', 'button.refresh'];
    for (const sel of sels) {
        const el = document.querySelector(sel);
        if (el) {
            const btn = el.closest('button') || el;
            btn.click();
            return true;
        }
    }
    const span = Array.from(document.querySelectorAll('span'))
        .find(s => (s.textContent || '').includes('Refresh'));
    if (span) {
        (span.closest('button') || span).click();
        return true;
    }
    return false;
})()`

const scrollToBottomJS = `window.scrollTo(0, document.body.scrollHeight)`

// Config holds the supervisor's connection settings.
type Config struct {
	DebuggerHost   string
	DebuggerPort   int
	DashboardURL   string
	LoginWait      time.Duration
	StartupTimeout time.Duration
}

// Supervisor owns the one live, authenticated session to the data venue. It
// attaches to an externally launched, already-logged-in browser, reuses an
// existing dashboard view rather than opening duplicates, and re-acquires
// the whole session when a fatal error is detected. It never terminates the
// process on a recoverable failure.
type Supervisor struct {
	cfg    Config
	bus    *bus.Bus
	log    *logger.Logger
	client *DevtoolsClient
	page   *Page
}

// NewSupervisor creates a Supervisor; call Acquire before GetRows/Refresh.
func NewSupervisor(cfg Config, b *bus.Bus, log *logger.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		bus:    b,
		log:    log,
		client: NewDevtoolsClient(cfg.DebuggerHost, cfg.DebuggerPort),
	}
}

// Acquire attaches to the authenticated browser session. It waits for the
// launcher's readiness marker (bounded, then proceeds degraded rather than
// deadlocking startup), locates or creates the dashboard view, scrolls the
// full table into the DOM, then honors the manual login hold.
func (s *Supervisor) Acquire(ctx context.Context) error {
	s.log.Info("waiting for browser readiness marker", logger.String("key", BrowserReadyKey))
	if !s.bus.WaitForMarker(ctx, BrowserReadyKey, s.cfg.StartupTimeout, 500*time.Millisecond) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("browser readiness marker never appeared, continuing anyway",
			logger.Duration("waited", s.cfg.StartupTimeout))
	}

	if err := s.EnsureTargetView(ctx); err != nil {
		return err
	}

	// Force lazy-rendered rows into the DOM before the first extraction.
	for i := 0; i < 15; i++ {
		if err := s.page.Evaluate(ctx, scrollToBottomJS, nil); err != nil {
			return fmt.Errorf("scroll table: %w", err)
		}
		sleep(ctx, 150*time.Millisecond)
	}
	sleep(ctx, 3*time.Second)

	s.holdForLogin(ctx)
	return nil
}

// holdForLogin gives the operator a window to finish username/password and
// captcha entry. The hold ends early when the login marker appears and
// always ends after LoginWait.
func (s *Supervisor) holdForLogin(ctx context.Context) {
	if s.cfg.LoginWait <= 0 {
		return
	}
	s.log.Info("manual login window open",
		logger.Duration("max_wait", s.cfg.LoginWait),
		logger.String("early_start_key", LoginReadyKey))
	if s.bus.WaitForMarker(ctx, LoginReadyKey, s.cfg.LoginWait, time.Second) {
		s.log.Info("login confirmed via marker")
	} else {
		s.log.Info("login wait elapsed, starting")
	}
}

// EnsureTargetView locates an existing view already positioned at the
// dashboard and attaches to it; only when none exists does it open a new
// one. Restart after restart this keeps the browser at a single dashboard
// view instead of leaking one per crash.
func (s *Supervisor) EnsureTargetView(ctx context.Context) error {
	targets, err := s.client.Targets(ctx)
	if err != nil {
		return fmt.Errorf("ensure view: %w", err)
	}

	var found *Target
	for i, t := range targets {
		if t.Type != "" && t.Type != "page" {
			continue
		}
		u := strings.ToLower(t.URL)
		if strings.Contains(u, "tms") || strings.Contains(u, "dashboard") {
			found = &targets[i]
			break
		}
	}

	if found == nil {
		s.log.Info("no dashboard view found, opening one", logger.String("url", s.cfg.DashboardURL))
		t, err := s.client.OpenTarget(ctx, s.cfg.DashboardURL)
		if err != nil {
			return fmt.Errorf("ensure view: %w", err)
		}
		found = &t
		sleep(ctx, 7*time.Second)
	} else {
		s.log.Info("reusing existing dashboard view", logger.String("url", found.URL))
	}

	if s.page != nil {
		_ = s.page.Close()
	}
	page, err := s.client.Attach(ctx, *found)
	if err != nil {
		return fmt.Errorf("ensure view: %w", err)
	}
	s.page = page
	return nil
}

// GetRows extracts the current quote table from the dashboard view.
func (s *Supervisor) GetRows(ctx context.Context) ([]model.RawRow, error) {
	if s.page == nil {
		return nil, ErrNotAttached
	}
	var rows []model.RawRow
	if err := s.page.Evaluate(ctx, extractRowsJS, &rows); err != nil {
		return nil, fmt.Errorf("get rows: %w", err)
	}
	return rows, nil
}

// Refresh triggers the dashboard's refresh affordance, falling back to a
// full page reload when the button is not present. Settle delays give the
// page time to fetch fresh data before the next extraction.
func (s *Supervisor) Refresh(ctx context.Context) error {
	if s.page == nil {
		return ErrNotAttached
	}
	var clicked bool
	if err := s.page.Evaluate(ctx, clickRefreshJS, &clicked); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if clicked {
		sleep(ctx, 1500*time.Millisecond)
		return nil
	}

	s.log.Warn("refresh button not found, reloading page")
	if err := s.page.Reload(ctx); err != nil {
		return fmt.Errorf("refresh reload: %w", err)
	}
	sleep(ctx, 3*time.Second)
	return nil
}

// Reacquire tears the session down and runs the full acquire sequence
// again, backing off and retrying until it succeeds or ctx is canceled.
// Fatal upstream errors land here; the supervisor itself never gives up.
func (s *Supervisor) Reacquire(ctx context.Context) error {
	for {
		s.Close()
		err := s.Acquire(ctx)
		if err == nil {
			s.log.Info("session re-acquired")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Error("re-acquire failed, backing off",
			logger.Error(err), logger.Duration("retry_in", reacquireDelay))
		sleep(ctx, reacquireDelay)
	}
}

// Close releases the page channel. Safe to call repeatedly.
func (s *Supervisor) Close() {
	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
