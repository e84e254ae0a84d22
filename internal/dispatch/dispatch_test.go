package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/shehryarbajwa/texbridge/internal/agent"
	"github.com/shehryarbajwa/texbridge/internal/compiler"
	"github.com/shehryarbajwa/texbridge/internal/delta"
	"github.com/shehryarbajwa/texbridge/internal/hashstore"
	"github.com/shehryarbajwa/texbridge/internal/health"
	"github.com/shehryarbajwa/texbridge/internal/selector"
	"github.com/shehryarbajwa/texbridge/internal/transport"
	"github.com/shehryarbajwa/texbridge/pkg/models"
)

const (
	localURL = "http://127.0.0.1:8765"
	cloudURL = "https://cloud.example.com"
)

type staticExtractor struct {
	snap  *models.ProjectSnapshot
	err   error
	calls int
}

func (e *staticExtractor) Extract(ctx context.Context, projectID string) (*models.ProjectSnapshot, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := models.NewSnapshot(projectID)
	for k, v := range e.snap.Files {
		out.Files[k] = v
	}
	for k, v := range e.snap.BinaryFiles {
		out.BinaryFiles[k] = v
	}
	return out, nil
}

type sentMessage struct {
	action  string
	payload []byte
	meta    map[string]string
}

// scriptedServer answers compile actions with queued replies and
// succeeds once the queue is empty
type scriptedServer struct {
	mu      sync.Mutex
	replies []transport.Reply
	sent    []sentMessage
}

func (s *scriptedServer) HandleAction(ctx context.Context, action string, payload []byte, meta map[string]string) transport.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{action: action, payload: append([]byte(nil), payload...), meta: meta})
	if len(s.replies) == 0 {
		return transport.Reply{OK: true, Code: string(models.OutcomeOK), Data: []byte("%PDF")}
	}
	next := s.replies[0]
	s.replies = s.replies[1:]
	return next
}

func (s *scriptedServer) actions() []string {
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = m.action
	}
	return out
}

func failWith(code models.OutcomeCode, msg string) transport.Reply {
	return transport.Reply{Code: string(code), Error: msg}
}

type onlineProber map[string]bool

func (p onlineProber) Probe(ctx context.Context, url, token string) health.Result {
	return health.Result{Online: p[url]}
}

// trackingStore records Clear and Save calls
type trackingStore struct {
	*hashstore.MemoryStore
	ops []string
}

func (s *trackingStore) Save(projectID string, m map[string]string) error {
	s.ops = append(s.ops, "save")
	return s.MemoryStore.Save(projectID, m)
}

func (s *trackingStore) Clear(projectID string) error {
	s.ops = append(s.ops, "clear")
	return s.MemoryStore.Clear(projectID)
}

type harness struct {
	d       *Dispatcher
	server  *scriptedServer
	store   *trackingStore
	ex      *staticExtractor
	channel *transport.LocalChannel
	prober  onlineProber
	cfg     Config
	states  []State
	notices []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	h := &harness{
		server: &scriptedServer{},
		store:  &trackingStore{MemoryStore: hashstore.NewMemoryStore()},
		ex: &staticExtractor{snap: &models.ProjectSnapshot{
			Files:       map[string]string{"main.tex": "A"},
			BinaryFiles: map[string]string{"img.png": base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'})},
		}},
		prober: onlineProber{localURL: true, cloudURL: true},
		cfg: Config{
			Policy: selector.Policy{LocalURL: localURL, CloudURL: cloudURL, AutoFallback: true, AuthToken: "tok"},
			Engine: "pdflatex",
		},
	}

	recv := transport.NewReceiver(h.server)
	recv.Logger = quiet
	h.channel = transport.NewLocalChannel(recv, 0)
	sender := transport.NewSender(h.channel)
	sender.Logger = quiet

	h.d = &Dispatcher{
		Tree:     h.ex,
		Sync:     delta.NewSynchronizer(h.store),
		Selector: selector.New(h.prober),
		Sender:   sender,
		Config:   func() Config { return h.cfg },
		OnState:  func(s State) { h.states = append(h.states, s) },
		OnNotice: func(msg string) { h.notices = append(h.notices, msg) },
		Logger:   quiet,
	}
	return h
}

func (h *harness) compile(t *testing.T) (*Result, *Error) {
	t.Helper()
	res, err := h.d.Compile(context.Background(), Request{ProjectID: "proj"})
	if err == nil {
		return res, nil
	}
	var derr *Error
	if !errors.As(err, &derr) {
		t.Fatalf("Compile returned %T %v, want *Error", err, err)
	}
	return nil, derr
}

func (h *harness) stored(t *testing.T) map[string]string {
	t.Helper()
	m, err := h.store.Load("proj")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m
}

func TestSuccessfulDeltaWalksStates(t *testing.T) {
	h := newHarness(t)
	res, derr := h.compile(t)
	if derr != nil {
		t.Fatalf("Compile: %v", derr)
	}

	want := []State{StateExtracting, StateSyncing, StateSelecting, StateTransporting, StateAwaiting, StateDone}
	if !reflect.DeepEqual(h.states, want) {
		t.Errorf("states = %v, want %v", h.states, want)
	}
	if string(res.PDF) != "%PDF" || res.ServerMode != models.ModeLocal || res.Fallback || res.Recovered {
		t.Errorf("result = %+v", res)
	}
	if got := h.server.actions(); !reflect.DeepEqual(got, []string{agent.ActionCompileDelta}) {
		t.Errorf("actions = %v", got)
	}
	if res.Changed != 2 {
		t.Errorf("first sync changed = %d, want every file", res.Changed)
	}
	if len(h.stored(t)) != 2 {
		t.Errorf("stored digests = %v", h.stored(t))
	}
	meta := h.server.sent[0].meta
	if meta[agent.MetaServer] != localURL || meta[agent.MetaEngine] != "pdflatex" || meta[agent.MetaToken] != "" {
		t.Errorf("meta = %v", meta)
	}
}

func TestUnchangedProjectSendsEmptyDelta(t *testing.T) {
	h := newHarness(t)
	if _, derr := h.compile(t); derr != nil {
		t.Fatalf("first Compile: %v", derr)
	}
	res, derr := h.compile(t)
	if derr != nil {
		t.Fatalf("second Compile: %v", derr)
	}
	if res.Changed != 0 || res.Deleted != 0 {
		t.Errorf("result = %+v, want empty delta", res)
	}
	last := h.server.sent[len(h.server.sent)-1]
	if last.action != agent.ActionCompileDelta {
		t.Errorf("empty delta sent as %s", last.action)
	}
	if len(last.payload) != compiler.EmptyArchiveSize || last.meta[agent.MetaDeleted] != "[]" {
		t.Errorf("empty delta payload = %d bytes, deleted = %s", len(last.payload), last.meta[agent.MetaDeleted])
	}
}

func TestCacheMissRecoversOnce(t *testing.T) {
	h := newHarness(t)
	h.server.replies = []transport.Reply{failWith(models.OutcomeCacheMiss, "CACHE_MISS")}

	res, derr := h.compile(t)
	if derr != nil {
		t.Fatalf("Compile: %v", derr)
	}
	if !res.Recovered {
		t.Error("recovery not reported")
	}
	if got := h.server.actions(); !reflect.DeepEqual(got, []string{agent.ActionCompileDelta, agent.ActionCompileFull}) {
		t.Errorf("actions = %v, want delta then one full", got)
	}
	// save from sync, clear on recovery, save after the full compile
	if !reflect.DeepEqual(h.store.ops, []string{"save", "clear", "save"}) {
		t.Errorf("store ops = %v", h.store.ops)
	}
	if len(h.stored(t)) != 2 {
		t.Errorf("record not repopulated: %v", h.stored(t))
	}
	if len(h.notices) != 1 || !strings.Contains(h.notices[0], "cache") {
		t.Errorf("notices = %v", h.notices)
	}

	var full models.CompileRequest
	if err := json.Unmarshal(h.server.sent[1].payload, &full); err != nil {
		t.Fatalf("full payload: %v", err)
	}
	if full.Files["main.tex"] != "A" || len(full.BinaryFiles) != 1 || full.ProjectID != "proj" {
		t.Errorf("full compile body = %+v", full)
	}
}

func TestRecoveredResultCountsFullSnapshot(t *testing.T) {
	h := newHarness(t)
	h.ex.snap.Files["b.tex"] = "b"
	if _, derr := h.compile(t); derr != nil {
		t.Fatalf("first Compile: %v", derr)
	}

	h.ex.snap.Files["main.tex"] = "B"
	delete(h.ex.snap.BinaryFiles, "img.png")
	h.server.replies = []transport.Reply{failWith(models.OutcomeCacheMiss, "CACHE_MISS")}

	res, derr := h.compile(t)
	if derr != nil {
		t.Fatalf("Compile: %v", derr)
	}
	if !res.Recovered || res.Changed != 2 || res.Deleted != 0 {
		t.Errorf("result = recovered %v, changed %d, deleted %d; want the full snapshot of 2", res.Recovered, res.Changed, res.Deleted)
	}
}

func TestSecondCacheMissIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.server.replies = []transport.Reply{
		failWith(models.OutcomeCacheMiss, "CACHE_MISS"),
		failWith(models.OutcomeCacheMiss, "CACHE_MISS"),
	}

	_, derr := h.compile(t)
	if derr == nil {
		t.Fatal("expected failure")
	}
	if derr.Kind != KindProtocol || !errors.Is(derr, compiler.ErrCacheMiss) {
		t.Errorf("err = %v, want protocol cache miss", derr)
	}
	if len(h.server.sent) != 2 {
		t.Errorf("sent %d requests, want 2", len(h.server.sent))
	}
	if len(h.stored(t)) != 0 {
		t.Error("record kept after a failed resync")
	}
	if h.states[len(h.states)-1] != StateFailed {
		t.Errorf("final state = %s", h.states[len(h.states)-1])
	}
}

func TestEndpointMissingFallsBackToFull(t *testing.T) {
	h := newHarness(t)
	h.server.replies = []transport.Reply{failWith(models.OutcomeEndpointMissing, "not found")}

	res, derr := h.compile(t)
	if derr != nil {
		t.Fatalf("Compile: %v", derr)
	}
	if !res.Recovered {
		t.Error("recovery not reported")
	}
	if h.server.sent[1].meta[agent.MetaServer] != h.server.sent[0].meta[agent.MetaServer] {
		t.Error("full compile went to a different server")
	}
	wantStates := []State{StateExtracting, StateSyncing, StateSelecting, StateTransporting, StateAwaiting,
		StateRecovering, StateTransporting, StateAwaiting, StateDone}
	if !reflect.DeepEqual(h.states, wantStates) {
		t.Errorf("states = %v", h.states)
	}
}

func TestGenericDeltaFailureRetriesOnce(t *testing.T) {
	h := newHarness(t)
	h.server.replies = []transport.Reply{
		failWith(models.OutcomeError, "bad gateway"),
		failWith(models.OutcomeError, "bad gateway"),
	}
	_, derr := h.compile(t)
	if derr == nil || derr.Kind != KindTransport {
		t.Fatalf("err = %v, want transport failure", derr)
	}
	if len(h.server.sent) != 2 {
		t.Errorf("sent %d requests, want 2", len(h.server.sent))
	}
}

func TestCompileFailureIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.server.replies = []transport.Reply{{
		Code:  string(models.OutcomeCompileFailed),
		Error: "Compilation failed.",
		Meta:  map[string]string{agent.MetaLog: "! Undefined control sequence."},
	}}

	_, derr := h.compile(t)
	if derr == nil || derr.Kind != KindCompile {
		t.Fatalf("err = %v, want compile failure", derr)
	}
	if len(h.server.sent) != 1 {
		t.Errorf("sent %d requests, want 1", len(h.server.sent))
	}
	if len(h.stored(t)) != 2 {
		t.Error("record cleared after a compile failure")
	}
	if !strings.Contains(derr.UserMessage(), "! Undefined control sequence.") {
		t.Errorf("user message lacks log: %q", derr.UserMessage())
	}
}

func TestInvalidatedChannel(t *testing.T) {
	h := newHarness(t)
	h.channel.Close()

	_, derr := h.compile(t)
	if derr == nil || derr.Kind != KindInvalidated {
		t.Fatalf("err = %v, want invalidated", derr)
	}
	if !errors.Is(derr, transport.ErrContextInvalidated) {
		t.Error("cause lost")
	}
	if len(h.server.sent) != 0 {
		t.Error("message delivered over closed channel")
	}
	if len(h.stored(t)) != 0 {
		t.Error("record kept although nothing reached the server")
	}
}

func TestNoServerAvailable(t *testing.T) {
	h := newHarness(t)
	h.prober[localURL] = false
	h.prober[cloudURL] = false

	_, derr := h.compile(t)
	if derr == nil || derr.Kind != KindUnavailable || !errors.Is(derr, selector.ErrNoServer) {
		t.Fatalf("err = %v, want unavailable", derr)
	}
	if derr.State != StateSelecting {
		t.Errorf("failed in %s", derr.State)
	}
	if len(h.stored(t)) != 0 {
		t.Error("record kept although nothing was sent")
	}
}

func TestExtractionFailure(t *testing.T) {
	h := newHarness(t)
	h.ex.err = errors.New("download failed: 403")

	_, derr := h.compile(t)
	if derr == nil || derr.Kind != KindExtraction {
		t.Fatalf("err = %v, want extraction failure", derr)
	}
	if !strings.Contains(derr.UserMessage(), "download failed: 403") {
		t.Errorf("message = %q", derr.UserMessage())
	}
	if len(h.store.ops) != 0 {
		t.Errorf("store touched: %v", h.store.ops)
	}
}

func TestArchivePreferredOverTree(t *testing.T) {
	h := newHarness(t)
	archive := &staticExtractor{snap: &models.ProjectSnapshot{Files: map[string]string{"main.tex": "Z"}}}
	h.d.Archive = archive

	if _, derr := h.compile(t); derr != nil {
		t.Fatalf("Compile: %v", derr)
	}
	if archive.calls != 1 || h.ex.calls != 0 {
		t.Errorf("archive calls = %d, tree calls = %d", archive.calls, h.ex.calls)
	}
}

func TestFallbackAndConfigReread(t *testing.T) {
	h := newHarness(t)
	h.prober[localURL] = false

	first, derr := h.compile(t)
	if derr != nil {
		t.Fatalf("Compile: %v", derr)
	}
	if first.ServerMode != models.ModeCloud || !first.Fallback {
		t.Errorf("result = %+v, want cloud fallback", first)
	}
	if h.server.sent[0].meta[agent.MetaToken] != "tok" {
		t.Error("cloud request without auth token")
	}
	if _, derr := h.compile(t); derr != nil {
		t.Fatalf("Compile: %v", derr)
	}
	if len(h.notices) != 1 {
		t.Errorf("fallback notices = %v, want 1", h.notices)
	}

	// Settings change between invocations take effect immediately.
	h.cfg.Policy.AutoFallback = false
	_, derr = h.compile(t)
	if derr == nil || !errors.Is(derr, selector.ErrLocalOffline) {
		t.Errorf("err = %v, want local offline", derr)
	}
}

func TestChunkedDeltaReachesServer(t *testing.T) {
	h := newHarness(t)
	h.d.Sender.Ceiling = 64
	h.d.Sender.ChunkSize = 32
	big := strings.Repeat("lorem ipsum ", 200)
	h.ex.snap.Files["chapter.tex"] = big

	if _, derr := h.compile(t); derr != nil {
		t.Fatalf("Compile: %v", derr)
	}
	if len(h.server.sent) != 1 || h.server.sent[0].action != agent.ActionCompileDelta {
		t.Fatalf("sent = %v", h.server.actions())
	}
	if h.server.sent[0].meta[agent.MetaProjectID] != "proj" {
		t.Error("meta lost across chunked transfer")
	}
}
