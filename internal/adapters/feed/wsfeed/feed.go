// Package wsfeed is a minimal websocket account-feed simulator used for
// local development and integration tests, standing in for a production
// Geyser/gRPC account stream behind the same ports.AccountFeed contract.
package wsfeed

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kalebmora/ringrouter/internal/domain"
	"github.com/kalebmora/ringrouter/internal/ports"
)

// wireEvent is the JSON shape a dev client publishes over the websocket.
type wireEvent struct {
	Kind         string `json:"kind"` // account | slot | snapshot_start | snapshot_end | invalid_account
	Pubkey       string `json:"pubkey,omitempty"`
	Owner        string `json:"owner,omitempty"`
	Slot         uint64 `json:"slot,omitempty"`
	WriteVersion uint64 `json:"write_version,omitempty"`
	Lamports     uint64 `json:"lamports,omitempty"`
	DataB64      string `json:"data_b64,omitempty"`
	Program      string `json:"program,omitempty"`
	Executable   bool   `json:"executable,omitempty"`
	RentEpoch    uint64 `json:"rent_epoch,omitempty"`
	Rooted       bool   `json:"rooted,omitempty"`
}

// Feed implements ports.AccountFeed by accepting websocket connections
// on ListenAddr and fanning out parsed events to every registered DEX
// subscription channel.
type Feed struct {
	log *zap.Logger

	mu   sync.Mutex
	subs map[string]chan ports.FeedEvent

	upgrader websocket.Upgrader
	server   *http.Server
}

// New builds a Feed listening on addr.
func New(addr string, log *zap.Logger) *Feed {
	f := &Feed{
		log:      log,
		subs:     make(map[string]chan ports.FeedEvent),
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", f.handleIngest)
	f.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return f
}

// Subscribe registers dexName for events and returns its channel. Calling
// Subscribe twice for the same name replaces the previous channel.
func (f *Feed) Subscribe(_ context.Context, dexName string) (<-chan ports.FeedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan ports.FeedEvent, 1024)
	f.subs[dexName] = ch
	return ch, nil
}

// ListenAndServe blocks accepting websocket connections until the server
// errors or is shut down.
func (f *Feed) ListenAndServe() error {
	return f.server.ListenAndServe()
}

// Shutdown stops the HTTP server and closes every subscriber channel.
func (f *Feed) Shutdown(ctx context.Context) error {
	err := f.server.Shutdown(ctx)
	f.mu.Lock()
	for _, ch := range f.subs {
		close(ch)
	}
	f.mu.Unlock()
	return err
}

func (f *Feed) handleIngest(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn("wsfeed: upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		var we wireEvent
		if err := conn.ReadJSON(&we); err != nil {
			return
		}
		ev, err := parseEvent(we)
		if err != nil {
			f.log.Debug("wsfeed: dropping malformed event", zap.Error(err))
			continue
		}
		f.broadcast(ev)
	}
}

func (f *Feed) broadcast(ev ports.FeedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			f.log.Warn("wsfeed: subscriber channel full, dropping event", zap.String("dex", name))
		}
	}
}

func parseEvent(we wireEvent) (ports.FeedEvent, error) {
	switch we.Kind {
	case "slot":
		return ports.FeedEvent{Kind: ports.FeedEventSlot, Slot: we.Slot}, nil
	case "account":
		pk, err := domain.MintFromHex(we.Pubkey)
		if err != nil {
			return ports.FeedEvent{}, err
		}
		owner, _ := domain.MintFromHex(we.Owner)
		data, _ := decodeDataB64(we.DataB64)
		return ports.FeedEvent{
			Kind: ports.FeedEventAccount,
			Account: ports.AccountRecord{
				Pubkey:       pk,
				Owner:        owner,
				Slot:         we.Slot,
				WriteVersion: we.WriteVersion,
				Lamports:     we.Lamports,
				Data:         data,
				Executable:   we.Executable,
				RentEpoch:    we.RentEpoch,
				Rooted:       we.Rooted,
			},
		}, nil
	case "snapshot_start":
		return ports.FeedEvent{Kind: ports.FeedEventSnapshotStart}, nil
	case "snapshot_end":
		prog, err := domain.MintFromHex(we.Program)
		if err != nil {
			return ports.FeedEvent{}, err
		}
		return ports.FeedEvent{Kind: ports.FeedEventSnapshotEnd, Program: prog}, nil
	case "invalid_account":
		pk, err := domain.MintFromHex(we.Pubkey)
		if err != nil {
			return ports.FeedEvent{}, err
		}
		return ports.FeedEvent{Kind: ports.FeedEventInvalidAccount, InvalidAcct: pk}, nil
	default:
		return ports.FeedEvent{}, fmt.Errorf("wsfeed: unknown event kind %q", we.Kind)
	}
}

func decodeDataB64(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
