package pvnet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Client is the Peer Status Manager's own transport back to the CMS (and
// the pvacert CLI's). It adds no TLS configuration of its own and dials
// whatever scheme baseURL names; the Peer Status Manager points it at the
// CMS's plain-HTTP listener, since a TLS handshake that depends on this
// same subscription to complete would recurse.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against a plain-HTTP CMS listener.
// baseURL looks like "http://cms.example.org:5075".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 3 * time.Second},
	}
}

// GetStatus performs the synchronous GET path peerstatus falls back to
// when no fresh cached/subscribed value exists, bounded to 3 seconds.
func (c *Client) GetStatus(ctx context.Context, issuerID string, serial uint64) (StatusValue, error) {
	url := fmt.Sprintf("%s/pv/CERT:STATUS/%s/%016x", c.baseURL, issuerID, serial)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StatusValue{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return StatusValue{}, fmt.Errorf("Timeout: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return StatusValue{}, fmt.Errorf("status fetch failed: HTTP %d", resp.StatusCode)
	}
	var v StatusValue
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return StatusValue{}, fmt.Errorf("MalformedToken: decode status value: %w", err)
	}
	return v, nil
}

// Create submits a CCR to the CMS CREATE operation and returns the PEM
// bundle (leaf plus chain) it responds with on success.
func (c *Client) Create(ctx context.Context, dto CreateRequestDTO) (string, error) {
	body, err := json.Marshal(dto)
	if err != nil {
		return "", err
	}
	url := c.baseURL + "/rpc/CERT:CREATE"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("Timeout: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create failed: HTTP %d: %s", resp.StatusCode, respBody)
	}
	return string(respBody), nil
}

// Revoke submits a REVOKE/APPROVE/DENY request for issuer_id:serial.
func (c *Client) Revoke(ctx context.Context, issuerID string, serial uint64, desiredState string) error {
	body, err := json.Marshal(RevokeRequestDTO{DesiredState: desiredState})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/rpc/CERT:REVOKE/%s/%016x", c.baseURL, issuerID, serial)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("Timeout: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("revoke failed: HTTP %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

// Subscription is a live MONITOR feed for one status PV.
type Subscription struct {
	conn   *websocket.Conn
	C      chan StatusValue
	cancel context.CancelFunc
}

// Close tears down the underlying websocket and stops delivery.
func (s *Subscription) Close() {
	s.cancel()
	s.conn.Close()
}

// Subscribe opens a MONITOR feed for issuer_id:serial's status PV, the
// mechanism certstatus.SubscriptionRequired gates. Updates
// arrive on the returned channel until Close is called or the connection
// drops.
func (c *Client) Subscribe(ctx context.Context, issuerID string, serial uint64) (*Subscription, error) {
	wsURL := fmt.Sprintf("%s/monitor/CERT:STATUS/%s/%016x", httpToWS(c.baseURL), issuerID, serial)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("SubscriptionFailed: %w", err)
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{conn: conn, C: make(chan StatusValue, 4), cancel: cancel}
	go sub.pump(subCtx)
	return sub, nil
}

func (s *Subscription) pump(ctx context.Context) {
	defer close(s.C)
	for {
		var v StatusValue
		if err := s.conn.ReadJSON(&v); err != nil {
			return
		}
		select {
		case s.C <- v:
		case <-ctx.Done():
			return
		}
	}
}

func httpToWS(base string) string {
	if len(base) >= 5 && base[:5] == "https" {
		return "wss" + base[5:]
	}
	if len(base) >= 4 && base[:4] == "http" {
		return "ws" + base[4:]
	}
	return base
}
