package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mosaicnetworks/weave/src/crypto"
	"github.com/mosaicnetworks/weave/src/crypto/keys"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/net"
	"github.com/mosaicnetworks/weave/src/node"
	"github.com/mosaicnetworks/weave/src/peers"
	"github.com/mosaicnetworks/weave/src/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*node.Node, *httptest.Server) {
	conf := node.TestConfig(t)
	conf.PresenceInterval = 0

	key, err := keys.GenerateKey()
	require.NoError(t, err)

	s, err := store.NewBadgerStore(t.TempDir(), 100, 0, conf.Logger)
	require.NoError(t, err)

	_, trans := net.NewInmemTransport("")

	n, err := node.NewNode(conf, key, peers.NewPeerSet(nil), s, trans)
	require.NoError(t, err)
	require.NoError(t, n.Init())
	n.RunAsync()

	srv := httptest.NewServer(NewService("", n, conf.Logger).Handler())

	t.Cleanup(func() {
		srv.Close()
		n.Shutdown()
	})

	return n, srv
}

func getJSON(t *testing.T, url string, code int, v interface{}) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, code, resp.StatusCode)
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
}

func postJSON(t *testing.T, url string, body interface{}, code int, v interface{}) {
	b, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, code, resp.StatusCode)
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
}

func TestPublishAndQuery(t *testing.T) {
	n, srv := newTestService(t)

	var ev event.Event
	postJSON(t, srv.URL+"/publish", map[string]interface{}{
		"type":    event.TypePost,
		"payload": map[string]string{"content": "hello"},
	}, http.StatusOK, &ev)
	assert.Equal(t, n.PubKey(), ev.Author)

	var got event.Event
	getJSON(t, srv.URL+"/events/"+ev.ID, http.StatusOK, &got)
	assert.Equal(t, ev.ID, got.ID)

	var page struct {
		Events []*event.Event `json:"events"`
		Cursor string         `json:"cursor"`
	}
	getJSON(t, srv.URL+"/events?type="+event.TypePost, http.StatusOK, &page)
	require.Len(t, page.Events, 1)
	assert.Equal(t, ev.ID, page.Events[0].ID)

	getJSON(t, srv.URL+"/events/"+strings.Repeat("0", 64), http.StatusNotFound, nil)

	// Unknown fields are a bad request.
	postJSON(t, srv.URL+"/publish", map[string]interface{}{
		"type":    event.TypePost,
		"payload": map[string]string{"content": "hello", "bogus": "x"},
	}, http.StatusBadRequest, nil)
}

func TestSubmitEvent(t *testing.T) {
	_, srv := newTestService(t)

	key, err := keys.GenerateKey()
	require.NoError(t, err)

	genesis, err := event.New(event.TypePost, &event.PostPayload{Content: "one"}, nil, 0, key)
	require.NoError(t, err)
	child, err := event.New(event.TypePost, &event.PostPayload{Content: "two"}, []string{genesis.ID}, 0, key)
	require.NoError(t, err)

	var res node.Result
	postJSON(t, srv.URL+"/events", child, http.StatusAccepted, &res)
	assert.Equal(t, node.StatusPending, res.Status)

	postJSON(t, srv.URL+"/events", genesis, http.StatusOK, &res)
	assert.Equal(t, node.StatusAccepted, res.Status)

	postJSON(t, srv.URL+"/events", genesis, http.StatusOK, &res)
	assert.Equal(t, node.StatusDuplicate, res.Status)

	getJSON(t, srv.URL+"/events/"+child.ID, http.StatusOK, nil)

	forged := *genesis
	forged.Sig = child.Sig
	forged.ID = strings.Repeat("f", 64)
	var rejection map[string]string
	postJSON(t, srv.URL+"/events", &forged, http.StatusUnprocessableEntity, &rejection)
	assert.NotEmpty(t, rejection["reason"])
}

func TestBalance(t *testing.T) {
	n, srv := newTestService(t)

	_, err := n.Publish(event.TypeToken, &event.TokenPayload{Action: event.TokenMint, Amount: 25}, nil)
	require.NoError(t, err)

	var res struct {
		Author  string `json:"author"`
		Balance uint64 `json:"balance"`
	}
	getJSON(t, srv.URL+"/balance/"+n.PubKey(), http.StatusOK, &res)
	assert.Equal(t, uint64(25), res.Balance)

	var transfers []interface{}
	getJSON(t, srv.URL+"/transfers/"+n.PubKey(), http.StatusOK, &transfers)
	assert.Empty(t, transfers)
}

func TestBlobs(t *testing.T) {
	n, srv := newTestService(t)

	data := []byte("inline content")
	_, err := n.Publish(event.TypeBlob, &event.BlobPayload{
		MimeType: "text/plain",
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/blobs/" + crypto.SHA256Hex(data))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, data, body)

	getJSON(t, srv.URL+"/blobs/"+strings.Repeat("a", 64), http.StatusNotFound, nil)
}

func TestSubscribeStream(t *testing.T) {
	n, srv := newTestService(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/subscribe?type="+event.TypePost, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var ids []string
	for i := 0; i < 3; i++ {
		ev, err := n.Publish(event.TypePost, &event.PostPayload{Content: fmt.Sprintf("post %d", i)}, nil)
		require.NoError(t, err)
		ids = append(ids, ev.ID)
	}

	scanner := bufio.NewScanner(resp.Body)
	for _, id := range ids {
		require.True(t, scanner.Scan())

		var line struct {
			Cursor uint64       `json:"cursor"`
			Event  *event.Event `json:"event"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		assert.Equal(t, id, line.Event.ID)
		assert.NotZero(t, line.Cursor)
	}
}

func TestStatsAndMetrics(t *testing.T) {
	n, srv := newTestService(t)

	var stats map[string]string
	getJSON(t, srv.URL+"/stats", http.StatusOK, &stats)
	assert.Equal(t, n.PubKey(), stats["pub_key"])

	var ps []*peers.Peer
	getJSON(t, srv.URL+"/peers", http.StatusOK, &ps)
	assert.Empty(t, ps)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "weave_pending_events")
	assert.Contains(t, string(body), "weave_blob_uploads_total")
}
