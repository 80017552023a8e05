package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"conjure/internal/notify/core"
	"conjure/internal/types"
)

// restCall is one recorded Discord REST request.
type restCall struct {
	method  string
	path    string
	payload map[string]any
	files   []string
}

// restRecorder is a fake Discord REST server recording every request.
type restRecorder struct {
	mu          sync.Mutex
	calls       []restCall
	channelType int
	failPaths   map[string]int // path substring -> status, rejects multi-attachment POSTs
	nextMsgID   int
}

func newRestRecorder() *restRecorder {
	return &restRecorder{failPaths: map[string]int{}, nextMsgID: 500, channelType: 0}
}

func (rr *restRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := restCall{method: r.Method, path: r.URL.Path}

	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &c.payload)
	case strings.HasPrefix(ct, "multipart/form-data"):
		_ = r.ParseMultipartForm(64 << 20)
		if r.MultipartForm != nil {
			if v := r.MultipartForm.Value["payload_json"]; len(v) > 0 {
				_ = json.Unmarshal([]byte(v[0]), &c.payload)
			}
			for _, headers := range r.MultipartForm.File {
				for _, h := range headers {
					c.files = append(c.files, h.Filename)
				}
			}
		}
	}

	rr.mu.Lock()
	rr.calls = append(rr.calls, c)
	msgID := rr.nextMsgID
	rr.nextMsgID++
	var failStatus int
	for sub, status := range rr.failPaths {
		if strings.Contains(r.URL.Path, sub) && r.Method == http.MethodPost && len(c.files) > 1 {
			failStatus = status
		}
	}
	chType := rr.channelType
	rr.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if failStatus != 0 {
		w.WriteHeader(failStatus)
		fmt.Fprint(w, `{"code":50035,"message":"Invalid Form Body"}`)
		return
	}

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/channels/"):
		id := strings.TrimPrefix(r.URL.Path, "/channels/")
		fmt.Fprintf(w, `{"id":%q,"type":%d}`, id, chType)
	case r.URL.Path == "/users/@me/channels":
		fmt.Fprint(w, `{"id":"dm-chan-1","type":1}`)
	case r.Method == http.MethodPatch:
		fmt.Fprintf(w, `{"id":"%d","channel_id":"edited"}`, msgID)
	default:
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		channelID := ""
		if len(parts) >= 2 {
			channelID = parts[1]
		}
		fmt.Fprintf(w, `{"id":"%d","channel_id":%q}`, msgID, channelID)
	}
}

func (rr *restRecorder) messageCreates() []restCall {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	var out []restCall
	for _, c := range rr.calls {
		if c.method == http.MethodPost && strings.HasSuffix(c.path, "/messages") {
			out = append(out, c)
		}
	}
	return out
}

func newFixture(t *testing.T) (*Notifier, *restRecorder, string) {
	t.Helper()

	rec := newRestRecorder()
	apiSrv := httptest.NewServer(rec)
	t.Cleanup(apiSrv.Close)

	mediaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".txt") {
			w.Write([]byte("inlined text content"))
			return
		}
		w.Write([]byte("media-bytes"))
	}))
	t.Cleanup(mediaSrv.Close)

	api := NewAPI(apiSrv.Client(), apiSrv.URL, types.SecretString("bot-token"))
	fetcher := core.NewFetcher(mediaSrv.Client(), types.NopLogger{})
	return NewNotifier(api, fetcher, types.NopLogger{}), rec, mediaSrv.URL
}

func completedRecord(rawPayload string) *types.GenerationRecord {
	return &types.GenerationRecord{
		ID:              "gen_1",
		Status:          types.GenerationCompleted,
		ResponsePayload: json.RawMessage(rawPayload),
	}
}

func TestSendNotification_MissingChannelID(t *testing.T) {
	n, _, _ := newFixture(t)

	err := n.SendNotification(context.Background(), types.NotificationContext{}, "done", completedRecord(`[]`))
	if err == nil {
		t.Fatal("expected error")
	}
	appErr, ok := err.(*types.AppError)
	if !ok || appErr.Code != types.ErrCodeConfigMissingDestination {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestSendNotification_FailedRecordSendsFallback(t *testing.T) {
	n, rec, _ := newFixture(t)

	record := &types.GenerationRecord{ID: "gen_1", Status: types.GenerationFailed}
	nctx := types.NotificationContext{ChannelID: "chan-1"}
	if err := n.SendNotification(context.Background(), nctx, "it broke", record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	creates := rec.messageCreates()
	if len(creates) != 1 {
		t.Fatalf("expected single message, got %d", len(creates))
	}
	content, _ := creates[0].payload["content"].(string)
	if !strings.Contains(content, "it broke") {
		t.Errorf("expected fallback content, got %q", content)
	}
	if creates[0].payload["components"] == nil {
		t.Error("expected control row on failure notice")
	}
}

func TestSendNotification_PhotosBatchedInOneMessage(t *testing.T) {
	n, rec, mediaURL := newFixture(t)

	record := completedRecord(fmt.Sprintf(
		`[{"data":{"images":[{"url":"%s/a.png"},{"url":"%s/b.png"},{"url":"%s/c.png"}]}}]`,
		mediaURL, mediaURL, mediaURL))
	nctx := types.NotificationContext{ChannelID: "chan-1"}
	if err := n.SendNotification(context.Background(), nctx, "done", record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	creates := rec.messageCreates()
	if len(creates) != 1 {
		t.Fatalf("expected one batched message, got %d", len(creates))
	}
	if len(creates[0].files) != 3 {
		t.Errorf("expected 3 attachments, got %v", creates[0].files)
	}
}

func TestSendNotification_BatchRejectedFallsBackToIndividual(t *testing.T) {
	n, rec, mediaURL := newFixture(t)
	rec.failPaths["/messages"] = http.StatusBadRequest

	record := completedRecord(fmt.Sprintf(
		`[{"data":{"images":[{"url":"%s/a.png"},{"url":"%s/b.png"}]}}]`, mediaURL, mediaURL))
	nctx := types.NotificationContext{ChannelID: "chan-1"}
	if err := n.SendNotification(context.Background(), nctx, "done", record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	singles := 0
	for _, c := range rec.messageCreates() {
		if len(c.files) == 1 {
			singles++
		}
	}
	if singles != 2 {
		t.Errorf("expected 2 individual sends after batch rejection, got %d", singles)
	}
}

func TestSendNotification_GuildDocumentRedirectedToDM(t *testing.T) {
	n, rec, mediaURL := newFixture(t)

	record := completedRecord(fmt.Sprintf(
		`[{"data":{"files":[{"url":"%s/result.zip","filename":"result.zip"}]}}]`, mediaURL))
	nctx := types.NotificationContext{ChannelID: "guild-chan", UserID: "user-9"}
	if err := n.SendNotification(context.Background(), nctx, "done", record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var dmSend, notice *restCall
	for _, c := range rec.messageCreates() {
		c := c
		if strings.Contains(c.path, "dm-chan-1") {
			dmSend = &c
		}
		if strings.Contains(c.path, "guild-chan") {
			notice = &c
		}
	}
	if dmSend == nil {
		t.Fatal("expected document sent to DM channel")
	}
	if len(dmSend.files) != 1 || dmSend.files[0] != "result.zip" {
		t.Errorf("expected result.zip in DM, got %v", dmSend.files)
	}
	if notice == nil {
		t.Fatal("expected notice in guild channel")
	}
	content, _ := notice.payload["content"].(string)
	if !strings.Contains(content, "privately") {
		t.Errorf("expected privacy notice, got %q", content)
	}
}

func TestSendNotification_DMDocumentNotRedirected(t *testing.T) {
	n, rec, mediaURL := newFixture(t)
	rec.channelType = 1 // destination is already a DM

	record := completedRecord(fmt.Sprintf(
		`[{"data":{"files":[{"url":"%s/result.zip","filename":"result.zip"}]}}]`, mediaURL))
	nctx := types.NotificationContext{ChannelID: "dm-direct", UserID: "user-9"}
	if err := n.SendNotification(context.Background(), nctx, "done", record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, c := range rec.messageCreates() {
		if !strings.Contains(c.path, "dm-direct") {
			t.Errorf("document should stay in the DM destination, went to %s", c.path)
		}
	}
}

func TestSendNotification_ControlRowAttachedToLastMessage(t *testing.T) {
	n, rec, mediaURL := newFixture(t)

	record := completedRecord(fmt.Sprintf(
		`[{"data":{"text":["caption"],"images":[{"url":"%s/a.png"}]}}]`, mediaURL))
	record.Metadata.RerunCount = 2
	nctx := types.NotificationContext{ChannelID: "chan-1"}
	if err := n.SendNotification(context.Background(), nctx, "done", record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec.mu.Lock()
	lastCall := rec.calls[len(rec.calls)-1]
	rec.mu.Unlock()
	if lastCall.method != http.MethodPatch {
		t.Fatalf("expected component edit as final call, got %s %s", lastCall.method, lastCall.path)
	}
	raw, _ := json.Marshal(lastCall.payload)
	if !strings.Contains(string(raw), "Rerun (2)") {
		t.Errorf("expected rerun count in components, got %s", raw)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	out := EscapeMarkdown("a*b_c~d`e|f>g")
	for _, ch := range []string{`\*`, `\_`, `\~`, "\\`", `\|`, `\>`} {
		if !strings.Contains(out, ch) {
			t.Errorf("expected %q escaped in %q", ch, out)
		}
	}
}
