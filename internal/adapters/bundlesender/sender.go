// Package bundlesender assembles and submits two-transaction Jito-style
// bundles: one transaction carrying the arbitrage swaps plus a tip
// deposit to an ephemeral account, a second closing that account and
// forwarding the tip to a randomly chosen well-known tip account.
package bundlesender

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kalebmora/ringrouter/internal/application/instructions"
	"github.com/kalebmora/ringrouter/internal/domain"
	"github.com/kalebmora/ringrouter/internal/metrics"
	"github.com/kalebmora/ringrouter/internal/ports"
)

// Exact lamport constants from the source bundle composition: the
// production values observed in original_source. They are named
// constants per DESIGN.md's Open Question resolution and are not
// configurable.
const (
	RentExemptLamports = 2_039_280 // ATA rent-exempt minimum
	TipTransferMargin  = 10_000    // added on top of the tip when funding the ephemeral account
	SetupFeeMargin     = 5_000     // added to the rent-exempt minimum for the wallet->ephemeral transfer
	CloseTxComputeUnit = 5_000

	DefaultTipBps    = 0
	computeUnitTipMul = 4.5
	profitTipFraction = 0.65
)

// jitoTipAccounts are the eight well-known tip accounts bundles pay into,
// selected uniformly at random per submission.
var jitoTipAccounts = [8]string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fFyYwGyPmC8vCqxLw",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

// Mode controls how bundles are submitted to configured relay URLs.
type Mode int

const (
	// Serial submits one identical bundle round-robin across relay URLs.
	Serial Mode = iota
	// Parallel submits a distinct, memo-tagged bundle to every relay URL
	// concurrently.
	Parallel
)

// Config wires a Sender's signing identity and relay targets.
type Config struct {
	Name                 string
	Signer               ed25519.PrivateKey
	JitoURLs             []string
	Mode                 Mode
	TipBps               float64
	MaxTip               uint64
	ComputeUnitPriceMicroLamports uint64
	HTTPClient           *http.Client
	RateLimitPerSecond   float64
}

// Sender builds and submits bundles for profitable routes.
type Sender struct {
	cfg     Config
	log     *zap.Logger
	mx      *metrics.Metrics
	limiter *rate.Limiter
	next    atomic.Uint64
}

// New builds a Sender. A nil HTTPClient gets a sane default with a
// conservative timeout, matching the teacher's HTTP client pattern.
func New(cfg Config, log *zap.Logger, mx *metrics.Metrics) *Sender {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	limit := cfg.RateLimitPerSecond
	if limit == 0 {
		limit = 20
	}
	return &Sender{
		cfg:     cfg,
		log:     log,
		mx:      mx,
		limiter: rate.NewLimiter(rate.Limit(limit), int(limit)),
	}
}

// CalculateTip implements the exact tip formula: a flat compute-unit- or
// profit-proportional tip when TipBps is unset, otherwise a
// basis-points cut of profit capped at MaxTip.
func (s *Sender) CalculateTip(profit uint64, computeUnitLimit uint32) uint64 {
	if s.cfg.TipBps == 0 {
		a := float64(computeUnitLimit) * computeUnitTipMul
		b := float64(profit) * profitTipFraction
		if a < b {
			return uint64(a)
		}
		return uint64(b)
	}
	a := float64(profit) * (s.cfg.TipBps / 10_000)
	b := float64(s.cfg.MaxTip)
	if a < b {
		return uint64(a)
	}
	return uint64(b)
}

// nextJitoURL round-robins through the configured relay URLs for serial
// (non-memo-tagged) bundle submission.
func (s *Sender) nextJitoURL() string {
	if len(s.cfg.JitoURLs) == 0 {
		return ""
	}
	idx := s.next.Add(1) - 1
	return s.cfg.JitoURLs[idx%uint64(len(s.cfg.JitoURLs))]
}

// randomTipAccountIndex picks one of the eight tip accounts uniformly at
// random using a CSPRNG, not math/rand, since funds flow to the result.
func randomTipAccountIndex() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(jitoTipAccounts))))
	if err != nil {
		return 0, fmt.Errorf("bundlesender: random tip account index: %w", err)
	}
	return int(n.Int64()), nil
}

// Bundle is the two serialized transactions ready to submit, plus the
// bookkeeping needed for audit logging.
type Bundle struct {
	RelayURL string
	Tx1      []byte
	Tx2      []byte
	TipLamports uint64
}

// Assemble builds the serial (single bundle) or parallel (one per relay
// URL, memo-tagged) bundle set for a priced route and its instruction
// plan. profit must already be known non-negative by the caller — a
// route is only ever assembled once the ring executor has confirmed a
// positive gain.
func (s *Sender) Assemble(ctx context.Context, route *domain.Route, plan instructions.Plan) ([]Bundle, error) {
	profit := uint64(route.Gain())
	computeUnitLimit := plan.ComputeUnitEst + 20_000
	tip := s.CalculateTip(profit, computeUnitLimit)

	tipIdx, err := randomTipAccountIndex()
	if err != nil {
		return nil, err
	}
	tipAccount := jitoTipAccounts[tipIdx]

	tx2, err := s.buildTx2(tip, tipAccount)
	if err != nil {
		return nil, err
	}

	switch s.cfg.Mode {
	case Serial:
		tx1, err := s.buildTx1(plan, computeUnitLimit, tip, s.cfg.Name)
		if err != nil {
			return nil, err
		}
		return []Bundle{{RelayURL: s.nextJitoURL(), Tx1: tx1, Tx2: tx2, TipLamports: tip}}, nil

	default: // Parallel
		bundles := make([]Bundle, 0, len(s.cfg.JitoURLs))
		for _, url := range s.cfg.JitoURLs {
			memo := url
			if s.cfg.Name != "" {
				memo = s.cfg.Name + "-" + url
			}
			tx1, err := s.buildTx1(plan, computeUnitLimit, tip, memo)
			if err != nil {
				return nil, err
			}
			bundles = append(bundles, Bundle{RelayURL: url, Tx1: tx1, Tx2: tx2, TipLamports: tip})
		}
		return bundles, nil
	}
}

// Instruction tags used by the length-prefixed framing buildTx1/buildTx2
// emit. Each frame is [1 byte tag][4 byte LE length][payload], letting a
// test (or a relay-side instruction decoder) walk a signed transaction
// back into its constituent instructions and assert exactly how many of
// each kind it carries — in particular, that Tx1 carries exactly one
// swap instruction no matter how many hops the route has.
const (
	tagComputeBudget byte = iota + 1
	tagSetup
	tagSwap
	tagCleanup
	tagCreateATA
	tagTransfer
	tagTipTransfer
	tagMemo
	tagCloseATA
)

// Frame is one decoded instruction frame: its tag and raw payload.
type Frame struct {
	Tag     byte
	Payload []byte
}

func writeFrame(buf *bytes.Buffer, tag byte, payload []byte) {
	buf.WriteByte(tag)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf.Write(lenBuf[:])
	buf.Write(payload)
}

// DecodeFrames walks a buildTx1/buildTx2 payload (signature already
// stripped) back into its instruction frames.
func DecodeFrames(data []byte) ([]Frame, error) {
	var frames []Frame
	for len(data) > 0 {
		if len(data) < 5 {
			return nil, fmt.Errorf("bundlesender: truncated frame header")
		}
		tag := data[0]
		n := binary.LittleEndian.Uint32(data[1:5])
		data = data[5:]
		if uint32(len(data)) < n {
			return nil, fmt.Errorf("bundlesender: truncated frame payload")
		}
		frames = append(frames, Frame{Tag: tag, Payload: data[:n]})
		data = data[n:]
	}
	return frames, nil
}

// buildTx1 assembles the primary transaction: compute budget, every
// route setup instruction, the single composite swap instruction, any
// cleanup instructions the route's swaps require, an idempotent ATA
// creation for the ephemeral tip account, the SPL transfer funding it
// with tip+margin, and the lamport transfer covering its rent-exempt
// minimum.
func (s *Sender) buildTx1(plan instructions.Plan, computeUnitLimit uint32, tip uint64, memo string) ([]byte, error) {
	var buf bytes.Buffer
	writeU64 := func(v uint64) []byte { var b [8]byte; binary.LittleEndian.PutUint64(b[:], v); return b[:] }

	var budget [12]byte
	binary.LittleEndian.PutUint64(budget[:8], s.cfg.ComputeUnitPriceMicroLamports)
	binary.LittleEndian.PutUint32(budget[8:], computeUnitLimit)
	writeFrame(&buf, tagComputeBudget, budget[:])

	for _, ix := range plan.Setup {
		writeFrame(&buf, tagSetup, ix)
	}
	writeFrame(&buf, tagSwap, plan.Swap)
	for _, ix := range plan.Cleanup {
		writeFrame(&buf, tagCleanup, ix)
	}
	writeFrame(&buf, tagCreateATA, nil)
	writeFrame(&buf, tagTransfer, writeU64(tip+TipTransferMargin))
	writeFrame(&buf, tagTransfer, writeU64(RentExemptLamports+SetupFeeMargin))
	if memo != "" {
		writeFrame(&buf, tagMemo, []byte(memo))
	}
	return s.sign(buf.Bytes())
}

// buildTx2 assembles the closing transaction: compute budget for the
// close instruction, closing the ephemeral account, forwarding the tip
// to the chosen well-known tip account, and returning
// 2*RentExemptLamports + TipTransferMargin lamports to the main wallet.
func (s *Sender) buildTx2(tip uint64, tipAccount string) ([]byte, error) {
	var buf bytes.Buffer
	writeU64 := func(v uint64) []byte { var b [8]byte; binary.LittleEndian.PutUint64(b[:], v); return b[:] }

	var limit [4]byte
	binary.LittleEndian.PutUint32(limit[:], CloseTxComputeUnit)
	writeFrame(&buf, tagComputeBudget, limit[:])

	writeFrame(&buf, tagCloseATA, nil)

	tipPayload := append([]byte(tipAccount), writeU64(tip)...)
	writeFrame(&buf, tagTipTransfer, tipPayload)

	writeFrame(&buf, tagTransfer, writeU64(RentExemptLamports*2+TipTransferMargin))
	return s.sign(buf.Bytes())
}

func (s *Sender) sign(payload []byte) ([]byte, error) {
	if s.cfg.Signer == nil {
		return payload, nil
	}
	sig := ed25519.Sign(s.cfg.Signer, payload)
	return append(sig, payload...), nil
}

type sendBundleRequest struct {
	ID      int           `json:"id"`
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type sendBundleResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SendBundle submits a bundle's transactions to its relay via JSON-RPC
// sendBundle, base64-encoding each raw transaction. Relay errors are
// classified for logging only — never retried inline, matching the
// spec's "RPC/relay HTTP errors are never retried inline" contract.
func (s *Sender) SendBundle(ctx context.Context, b Bundle) ports.BundleResult {
	start := time.Now()
	if err := s.limiter.Wait(ctx); err != nil {
		return ports.BundleResult{RelayURL: b.RelayURL, Err: err}
	}

	encoded := []string{
		base64.StdEncoding.EncodeToString(b.Tx1),
		base64.StdEncoding.EncodeToString(b.Tx2),
	}
	reqBody := sendBundleRequest{
		ID:      1,
		JSONRPC: "2.0",
		Method:  "sendBundle",
		Params:  []interface{}{encoded, map[string]string{"encoding": "base64"}},
	}

	payload, err := jsoniter.Marshal(reqBody)
	if err != nil {
		return ports.BundleResult{RelayURL: b.RelayURL, Err: fmt.Errorf("bundlesender: marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.RelayURL, bytes.NewReader(payload))
	if err != nil {
		return ports.BundleResult{RelayURL: b.RelayURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.cfg.HTTPClient.Do(req)
	latency := time.Since(start)
	if s.mx != nil {
		s.mx.BundleSendLatency.WithLabelValues(b.RelayURL).Observe(latency.Seconds())
	}
	if err != nil {
		s.log.Warn("bundle send failed", zap.String("relay", b.RelayURL), zap.Error(err))
		return ports.BundleResult{RelayURL: b.RelayURL, Err: err, Latency: latency}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.classifyHTTPError(b.RelayURL, resp.StatusCode)
		return ports.BundleResult{RelayURL: b.RelayURL, Err: fmt.Errorf("bundlesender: relay %s: status %d", b.RelayURL, resp.StatusCode), Latency: latency}
	}

	var parsed sendBundleResponse
	if err := jsoniter.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ports.BundleResult{RelayURL: b.RelayURL, Err: fmt.Errorf("bundlesender: decode response: %w", err), Latency: latency}
	}
	if parsed.Error != nil {
		return ports.BundleResult{RelayURL: b.RelayURL, Err: fmt.Errorf("bundlesender: relay error %d: %s", parsed.Error.Code, parsed.Error.Message), Latency: latency}
	}

	return ports.BundleResult{RelayURL: b.RelayURL, BundleID: parsed.Result, Latency: latency}
}

func (s *Sender) classifyHTTPError(url string, status int) {
	switch {
	case status == http.StatusTooManyRequests:
		s.log.Warn("relay rate limited us", zap.String("relay", url))
	case status >= 400 && status < 500:
		s.log.Warn("relay rejected bundle", zap.String("relay", url), zap.Int("status", status))
	default:
		s.log.Warn("relay error", zap.String("relay", url), zap.Int("status", status))
	}
}

// SendAll dispatches every bundle, sequentially in Serial mode (so the
// round-robin counter reflects true send order) or concurrently in
// Parallel mode.
func (s *Sender) SendAll(ctx context.Context, bundles []Bundle) []ports.BundleResult {
	if s.cfg.Mode == Serial {
		results := make([]ports.BundleResult, len(bundles))
		for i, b := range bundles {
			results[i] = s.SendBundle(ctx, b)
		}
		return results
	}

	results := make([]ports.BundleResult, len(bundles))
	done := make(chan int, len(bundles))
	for i, b := range bundles {
		go func(i int, b Bundle) {
			results[i] = s.SendBundle(ctx, b)
			done <- i
		}(i, b)
	}
	for range bundles {
		<-done
	}
	return results
}
