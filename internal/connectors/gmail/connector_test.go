package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"pharmatrack/internal"
	"pharmatrack/internal/config"
)

func TestSearchQuery(t *testing.T) {
	assert.Equal(t, `subject:"FACTURE TEST"`, SearchQuery(" FACTURE TEST "))
	assert.Equal(t, `subject:"BL 12"`, SearchQuery(`"BL 12"`))
	assert.Equal(t, "has:attachment", SearchQuery(""))
}

func TestDecodeBase64URL(t *testing.T) {
	raw := []byte("Subject: hi\r\n\r\nbody?>")

	got, err := decodeBase64URL(base64.RawURLEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = decodeBase64URL(base64.URLEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = decodeBase64URL("***")
	assert.Error(t, err)
}

func TestNewConnectorRequiresCredentials(t *testing.T) {
	_, err := NewConnector(config.Config{GmailClientID: "id"})
	assert.Error(t, err)

	c, err := NewConnector(config.Config{GmailClientID: "id", GmailClientSecret: "s", GmailRefreshToken: "r", IMAPMarkSeen: true})
	require.NoError(t, err)
	assert.True(t, c.markSeen)
	assert.Contains(t, c.oauth.Scopes[0], "gmail.modify")
}

// fakeGmail serves the token endpoint and the few Gmail API calls a session
// makes. Listings come back newest first, as Gmail does.
type fakeGmail struct {
	mu        sync.Mutex
	refreshes int
	queries   []string
	modified  map[string][]string
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/token" {
		f.refreshes++
		_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600}`))
		return
	}
	if r.Header.Get("Authorization") != "Bearer at" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":401,"message":"no token"}}`))
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages")
	switch {
	case rest == "":
		f.queries = append(f.queries, r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"messages":[{"id":"m2"},{"id":"m1"}]}`))
	case strings.HasSuffix(rest, "/modify"):
		var req struct {
			RemoveLabelIds []string `json:"removeLabelIds"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if f.modified == nil {
			f.modified = map[string][]string{}
		}
		f.modified[strings.Trim(strings.TrimSuffix(rest, "/modify"), "/")] = req.RemoveLabelIds
		_, _ = w.Write([]byte(`{}`))
	case r.URL.Query().Get("format") == "raw":
		id := strings.Trim(rest, "/")
		raw := base64.RawURLEncoding.EncodeToString([]byte("Subject: BL " + id + "\r\n\r\nbody"))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "raw": raw})
	default:
		id := strings.Trim(rest, "/")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": id,
			"payload": map[string]any{"headers": []map[string]string{
				{"name": "Subject", "value": "FACTURE TEST " + id},
				{"name": "From", "value": "grossiste@example.test"},
				{"name": "Message-ID", "value": "<" + id + "@grossiste.example>"},
				{"name": "Date", "value": "Mon, 19 Oct 2026 08:00:00 +0000"},
			}},
		})
	}
}

func newTestConnector(t *testing.T, markSeen bool) (*Connector, *fakeGmail) {
	t.Helper()
	fake := &fakeGmail{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := NewConnector(config.Config{GmailClientID: "id", GmailClientSecret: "s", GmailRefreshToken: "r", IMAPMarkSeen: markSeen})
	require.NoError(t, err)
	c.oauth.Endpoint = oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams}
	c.endpoint = srv.URL + "/"
	return c, fake
}

func TestSessionOutlivesOpenContext(t *testing.T) {
	c, fake := newTestConnector(t, true)

	openCtx, cancel := context.WithCancel(context.Background())
	sess, err := c.Open(openCtx)
	cancel()
	require.NoError(t, err)
	defer func() { assert.NoError(t, sess.Logout()) }()

	ctx := context.Background()
	refs, err := sess.Search(ctx, "FACTURE TEST")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "m1", refs[0].ID)
	assert.Equal(t, "<m1@grossiste.example>", refs[0].MessageID)
	assert.Equal(t, "FACTURE TEST m1", refs[0].Subject)
	assert.Equal(t, "grossiste@example.test", refs[0].From)
	assert.Equal(t, 2026, refs[0].Date.Year())
	assert.Equal(t, "m2", refs[1].ID)

	raw, err := sess.Fetch(ctx, refs[0])
	require.NoError(t, err)
	assert.Equal(t, "Subject: BL m1\r\n\r\nbody", string(raw))

	require.NoError(t, sess.MarkSeen(ctx, refs[0]))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{`subject:"FACTURE TEST"`}, fake.queries)
	assert.Equal(t, []string{"UNREAD"}, fake.modified["m1"])
	assert.Equal(t, 1, fake.refreshes)
}

func TestMarkSeenDisabledLeavesLabels(t *testing.T) {
	c, fake := newTestConnector(t, false)

	sess, err := c.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, sess.MarkSeen(context.Background(), internal.MessageRef{ID: "m1"}))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.modified)
	assert.Zero(t, fake.refreshes)
}

func TestOpenHonoursCancelledContext(t *testing.T) {
	c, _ := newTestConnector(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Open(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
