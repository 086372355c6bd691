package service

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	cm "github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/node"
	"github.com/mosaicnetworks/weave/src/replication"
	"github.com/mosaicnetworks/weave/src/store"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Request body limits.
const (
	MaxEventSize = 1 << 20
	MaxBlobSize  = 64 << 20
)

// Service serves the application API of a node over HTTP.
type Service struct {
	bindAddress string
	node        *node.Node
	router      *mux.Router
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		router:      mux.NewRouter(),
		logger:      logger.WithField("prefix", "service"),
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering Weave API handlers")

	r := s.router
	r.Use(cors)

	r.HandleFunc("/events", s.SubmitEvent).Methods("POST")
	r.HandleFunc("/events", s.QueryEvents).Methods("GET")
	r.HandleFunc("/events/{id}", s.GetEvent).Methods("GET")
	r.HandleFunc("/publish", s.Publish).Methods("POST")
	r.HandleFunc("/subscribe", s.Subscribe).Methods("GET")
	r.HandleFunc("/balance/{author}", s.GetBalance).Methods("GET")
	r.HandleFunc("/transfers/{author}", s.GetTransfers).Methods("GET")
	r.HandleFunc("/excluded", s.GetExcluded).Methods("GET")
	r.HandleFunc("/blobs", s.UploadBlob).Methods("POST")
	r.HandleFunc("/blobs/{cid}", s.FetchBlob).Methods("GET")
	r.HandleFunc("/web", s.GetWebPage).Methods("GET").Queries("url", "{url}")
	r.HandleFunc("/names/{name}", s.GetName).Methods("GET")
	r.HandleFunc("/stats", s.GetStats).Methods("GET")
	r.HandleFunc("/peers", s.GetPeers).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.node.Registry(), promhttp.HandlerOpts{})).Methods("GET")
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// Handler returns the router serving the API.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving Weave API")

	server := &http.Server{
		Addr:              s.bindAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil {
		s.logger.Error(err)
	}
}

func sendResponse(code int, data interface{}, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func sendError(code int, err error, w http.ResponseWriter) {
	body := map[string]string{"error": err.Error()}
	if rej, ok := cm.AsRejection(err); ok {
		body["reason"] = rej.Kind().String()
	}
	sendResponse(code, body, w)
}

// statusOf maps an error of the node to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Cause(err) == replication.ErrBlobNotFound:
		return http.StatusNotFound
	case cm.IsStore(err, cm.KeyNotFound):
		return http.StatusNotFound
	case cm.IsStore(err, cm.QuotaExceeded):
		return http.StatusInsufficientStorage
	}
	if _, ok := cm.AsRejection(err); ok {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func queryFrom(r *http.Request) store.Query {
	v := r.URL.Query()
	return store.Query{
		Author: v.Get("author"),
		Type:   v.Get("type"),
		Ref:    v.Get("ref"),
	}
}

// SubmitEvent admits an event signed by the client.
func (s *Service) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxEventSize))
	if err != nil {
		sendError(http.StatusRequestEntityTooLarge, err, w)
		return
	}

	ev, err := event.Unmarshal(body)
	if err != nil {
		sendError(http.StatusBadRequest, err, w)
		return
	}

	res, err := s.node.Submit(ev)
	if err != nil {
		sendError(statusOf(err), err, w)
		return
	}

	code := http.StatusOK
	if res.Status == node.StatusPending {
		code = http.StatusAccepted
	}
	sendResponse(code, res, w)
}

type publishRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Foreign []string        `json:"foreign,omitempty"`
}

// Publish creates an event signed by the node key.
func (s *Service) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxEventSize)).Decode(&req); err != nil {
		sendError(http.StatusBadRequest, err, w)
		return
	}

	payload, err := event.NewPayload(req.Type, req.Payload)
	if err != nil {
		sendError(http.StatusBadRequest, err, w)
		return
	}

	ev, err := s.node.Publish(req.Type, payload, req.Foreign)
	if err != nil {
		sendError(statusOf(err), err, w)
		return
	}

	sendResponse(http.StatusOK, ev, w)
}

// QueryEvents returns one page of events matching the author, type and ref
// parameters.
func (s *Service) QueryEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	page, err := s.node.Query(queryFrom(r), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		sendError(statusOf(err), err, w)
		return
	}

	sendResponse(http.StatusOK, map[string]interface{}{
		"events": page.Events,
		"cursor": page.Cursor,
	}, w)
}

// GetEvent ...
func (s *Service) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ev, err := s.node.GetEvent(id)
	if err != nil {
		sendError(statusOf(err), err, w)
		return
	}

	sendResponse(http.StatusOK, ev, w)
}

// Subscribe streams the matching events as newline-delimited JSON until the
// client goes away. The cursor parameter resumes a previous stream; every
// line carries the cursor of its event.
func (s *Service) Subscribe(w http.ResponseWriter, r *http.Request) {
	var cursor uint64
	if c := r.URL.Query().Get("cursor"); c != "" {
		var err error
		if cursor, err = strconv.ParseUint(c, 10, 64); err != nil {
			sendError(http.StatusBadRequest, errors.Wrap(err, "cursor"), w)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(http.StatusInternalServerError, errors.New("streaming unsupported"), w)
		return
	}

	sub := s.node.Subscribe(queryFrom(r), cursor)
	defer sub.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		ev, err := sub.Next(r.Context())
		if err != nil {
			if err != node.ErrSubscriptionClosed && r.Context().Err() == nil {
				s.logger.WithError(err).Error("Subscription")
			}
			return
		}

		line := struct {
			Cursor uint64       `json:"cursor"`
			Event  *event.Event `json:"event"`
		}{sub.Cursor(), ev}

		if err := enc.Encode(line); err != nil {
			return
		}
		flusher.Flush()
	}
}

// GetBalance ...
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	author := mux.Vars(r)["author"]

	sendResponse(http.StatusOK, map[string]interface{}{
		"author":  author,
		"balance": s.node.Balance(author),
	}, w)
}

// GetTransfers returns the unclaimed transfers to author.
func (s *Service) GetTransfers(w http.ResponseWriter, r *http.Request) {
	sendResponse(http.StatusOK, s.node.PendingTransfers(mux.Vars(r)["author"]), w)
}

// GetExcluded ...
func (s *Service) GetExcluded(w http.ResponseWriter, r *http.Request) {
	sendResponse(http.StatusOK, s.node.Excluded(), w)
}

// UploadBlob stores the request body and returns its cid.
func (s *Service) UploadBlob(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBlobSize))
	if err != nil {
		sendError(http.StatusRequestEntityTooLarge, err, w)
		return
	}

	cid, manifests, err := s.node.UploadBlob(r.Context(), data)
	if err != nil {
		s.logger.WithError(err).Error("Uploading blob")
		sendError(statusOf(err), err, w)
		return
	}

	ids := make([]string, len(manifests))
	for i, m := range manifests {
		ids[i] = m.ID
	}

	sendResponse(http.StatusOK, map[string]interface{}{
		"cid":       cid,
		"manifests": ids,
	}, w)
}

// FetchBlob streams the blob to the client. Errors after the first byte
// only cut the stream short.
func (s *Service) FetchBlob(w http.ResponseWriter, r *http.Request) {
	cid := mux.Vars(r)["cid"]

	cw := &countingWriter{w: w}
	w.Header().Set("Content-Type", "application/octet-stream")

	err := s.node.FetchBlob(r.Context(), cid, cw)
	if err == nil {
		return
	}

	s.logger.WithError(err).WithField("cid", cid).Debug("Fetching blob")
	if cw.n == 0 {
		code := statusOf(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadGateway
		}
		sendError(code, err, w)
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// GetWebPage returns the current version of a page.
func (s *Service) GetWebPage(w http.ResponseWriter, r *http.Request) {
	ev, _, err := s.node.WebPage(mux.Vars(r)["url"])
	if err != nil {
		sendError(statusOf(err), err, w)
		return
	}
	sendResponse(http.StatusOK, ev, w)
}

// GetName returns the current record of a name.
func (s *Service) GetName(w http.ResponseWriter, r *http.Request) {
	ev, _, err := s.node.NameRecord(mux.Vars(r)["name"])
	if err != nil {
		sendError(statusOf(err), err, w)
		return
	}
	sendResponse(http.StatusOK, ev, w)
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	sendResponse(http.StatusOK, s.node.GetStats(), w)
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	sendResponse(http.StatusOK, s.node.GetPeers(), w)
}
