package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// DevtoolsClient talks to a browser's remote debugging endpoint. The browser
// is launched (and logged in) outside this process; we only attach.
type DevtoolsClient struct {
	host  string
	port  int
	httpc *http.Client
}

// NewDevtoolsClient creates a client for the debugger at host:port.
func NewDevtoolsClient(host string, port int) *DevtoolsClient {
	return &DevtoolsClient{
		host:  host,
		port:  port,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

// Target describes one open page in the attached browser.
type Target struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	DebuggerURL string `json:"webSocketDebuggerUrl"`
}

func (c *DevtoolsClient) endpoint(path string) string {
	return fmt.Sprintf("http://%s:%d%s", c.host, c.port, path)
}

// Targets lists the browser's open pages.
func (c *DevtoolsClient) Targets(ctx context.Context) ([]Target, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/json/list"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("devtools list: %w", err)
	}
	defer resp.Body.Close()

	var targets []Target
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("devtools list decode: %w", err)
	}
	return targets, nil
}

// OpenTarget opens a new page at pageURL. Newer browsers require PUT on
// /json/new; older ones accept GET, so fall back.
func (c *DevtoolsClient) OpenTarget(ctx context.Context, pageURL string) (Target, error) {
	u := c.endpoint("/json/new") + "?" + url.Values{"url": {pageURL}}.Encode()

	var t Target
	for _, method := range []string{http.MethodPut, http.MethodGet} {
		req, err := http.NewRequestWithContext(ctx, method, u, nil)
		if err != nil {
			return Target{}, err
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			return Target{}, fmt.Errorf("devtools new target: %w", err)
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			continue
		}
		err = json.NewDecoder(resp.Body).Decode(&t)
		resp.Body.Close()
		if err != nil {
			return Target{}, fmt.Errorf("devtools new target decode: %w", err)
		}
		return t, nil
	}
	return Target{}, fmt.Errorf("devtools new target: endpoint rejected request")
}

// Page is one attached page channel. Calls are synchronous; protocol events
// arriving between responses are skipped.
type Page struct {
	conn   *websocket.Conn
	nextID atomic.Int64
	target Target
}

// Attach dials the page's debugger websocket.
func (c *DevtoolsClient) Attach(ctx context.Context, t Target) (*Page, error) {
	if t.DebuggerURL == "" {
		return nil, fmt.Errorf("target %s: no debugger url", t.ID)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.DebuggerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("devtools attach: %w", err)
	}
	return &Page{conn: conn, target: t}, nil
}

// Target returns the page's target descriptor.
func (p *Page) Target() Target { return p.target }

type cdpRequest struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type cdpResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *cdpError       `json:"error"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *cdpError) Error() string {
	return fmt.Sprintf("devtools: %s (%d)", e.Message, e.Code)
}

// Call invokes one protocol method and waits for its response.
func (p *Page) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if p == nil || p.conn == nil {
		return nil, ErrNotAttached
	}
	id := p.nextID.Add(1)

	deadline := time.Now().Add(30 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = p.conn.SetWriteDeadline(deadline)
	if err := p.conn.WriteJSON(cdpRequest{ID: id, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	_ = p.conn.SetReadDeadline(deadline)
	for {
		var resp cdpResponse
		if err := p.conn.ReadJSON(&resp); err != nil {
			return nil, fmt.Errorf("%s: %w", method, err)
		}
		if resp.ID != id {
			// Unsolicited event or stale response; keep reading.
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %w", method, resp.Error)
		}
		return resp.Result, nil
	}
}

type evaluateResult struct {
	Result struct {
		Type    string          `json:"type"`
		Value   json.RawMessage `json:"value"`
		Subtype string          `json:"subtype"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails"`
}

// Evaluate runs a script in the page and unmarshals its by-value result
// into dest. A nil dest discards the result.
func (p *Page) Evaluate(ctx context.Context, expr string, dest interface{}) error {
	raw, err := p.Call(ctx, "Runtime.evaluate", map[string]interface{}{
		"expression":    expr,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return err
	}
	var res evaluateResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("evaluate decode: %w", err)
	}
	if res.ExceptionDetails != nil {
		return fmt.Errorf("evaluate: %s", res.ExceptionDetails.Text)
	}
	if dest == nil || res.Result.Value == nil {
		return nil
	}
	if err := json.Unmarshal(res.Result.Value, dest); err != nil {
		return fmt.Errorf("evaluate result: %w", err)
	}
	return nil
}

// Reload performs a full page reload, the heavy fallback when the in-page
// refresh affordance is missing.
func (p *Page) Reload(ctx context.Context) error {
	_, err := p.Call(ctx, "Page.reload", map[string]interface{}{"ignoreCache": false})
	return err
}

// Close tears down the page channel.
func (p *Page) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
