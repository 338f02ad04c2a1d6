// Package s3test provides an in-process S3 endpoint for tests.
//
// It speaks the path-style subset of the S3 REST API the transport uses:
// GetObject (with byte ranges), HeadObject, PutObject, PutObjectAcl and
// ListObjectsV2. Objects live in memory. Errors are S3 XML error documents.
package s3test

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// Object is a stored object.
type Object struct {
	Key          string
	Data         []byte
	ContentType  string
	Metadata     map[string]string
	LastModified time.Time
	ETag         string
	ACL          string
}

// Request is a recorded incoming request.
type Request struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	Header        http.Header
}

// Server is a fake S3 endpoint. It implements http.Handler.
type Server struct {
	mu       sync.Mutex
	buckets  map[string]map[string]*Object
	statuses map[string]int
	requests []Request
	router   *mux.Router
}

// New returns a server holding the given empty buckets.
func New(buckets ...string) *Server {
	s := &Server{
		buckets:  make(map[string]map[string]*Object),
		statuses: make(map[string]int),
	}
	for _, b := range buckets {
		s.buckets[b] = make(map[string]*Object)
	}

	r := mux.NewRouter()
	r.Use(s.record)

	r.HandleFunc("/{bucket}", s.listObjects).Methods(http.MethodGet)
	r.HandleFunc("/{bucket}/", s.listObjects).Methods(http.MethodGet)

	r.HandleFunc("/{bucket}/{key:.+}", s.putObjectACL).Methods(http.MethodPut).Queries("acl", "")
	r.HandleFunc("/{bucket}/{key:.+}", s.putObject).Methods(http.MethodPut)
	r.HandleFunc("/{bucket}/{key:.+}", s.getObject).Methods(http.MethodGet, http.MethodHead)

	r.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, "NotImplemented", fmt.Sprintf("%s %s is not supported", r.Method, r.URL.Path), http.StatusNotImplemented)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Put stores an object directly.
func (s *Server) Put(bucket, key string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	objects, ok := s.buckets[bucket]
	if !ok {
		objects = make(map[string]*Object)
		s.buckets[bucket] = objects
	}
	objects[key] = newObject(key, data, contentType, nil)
}

// Object returns a copy of a stored object.
func (s *Server) Object(bucket, key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return Object{}, false
	}
	return *obj, true
}

// Keys returns the sorted keys in bucket.
func (s *Server) Keys(bucket string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.buckets[bucket]))
	for k := range s.buckets[bucket] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FailWith makes every request for bucket/key answer with status.
func (s *Server) FailWith(bucket, key string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[bucket+"/"+key] = status
}

// Requests returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			Authorization: r.Header.Get("Authorization"),
			Header:        r.Header.Clone(),
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) forced(bucket, key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[bucket+"/"+key]
}

func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	bucket, key := mux.Vars(r)["bucket"], mux.Vars(r)["key"]
	if status := s.forced(bucket, key); status != 0 {
		writeError(w, r, codeFor(status), http.StatusText(status), status)
		return
	}

	s.mu.Lock()
	objects, bucketOK := s.buckets[bucket]
	var obj *Object
	if bucketOK {
		obj = objects[key]
	}
	s.mu.Unlock()

	switch {
	case !bucketOK:
		writeError(w, r, "NoSuchBucket", "The specified bucket does not exist", http.StatusNotFound)
		return
	case obj == nil:
		writeError(w, r, "NoSuchKey", "The specified key does not exist.", http.StatusNotFound)
		return
	}

	h := w.Header()
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "binary/octet-stream"
	}
	h.Set("Content-Type", contentType)
	h.Set("ETag", obj.ETag)
	h.Set("Last-Modified", obj.LastModified.UTC().Format(http.TimeFormat))
	h.Set("Accept-Ranges", "bytes")
	for k, v := range obj.Metadata {
		h.Set("x-amz-meta-"+k, v)
	}

	data := obj.Data
	status := http.StatusOK
	if rng := r.Header.Get("Range"); rng != "" {
		start, end, ok := parseRange(rng, int64(len(data)))
		if !ok {
			writeError(w, r, "InvalidRange", "The requested range is not satisfiable", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
		data = data[start : end+1]
		status = http.StatusPartialContent
	}

	h.Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(data)
}

func (s *Server) putObject(w http.ResponseWriter, r *http.Request) {
	bucket, key := mux.Vars(r)["bucket"], mux.Vars(r)["key"]
	if status := s.forced(bucket, key); status != 0 {
		writeError(w, r, codeFor(status), http.StatusText(status), status)
		return
	}
	if r.ContentLength < 0 {
		writeError(w, r, "MissingContentLength", "You must provide the Content-Length HTTP header.", http.StatusLengthRequired)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, "IncompleteBody", err.Error(), http.StatusBadRequest)
		return
	}

	meta := make(map[string]string)
	for name, values := range r.Header {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-amz-meta-") && len(values) > 0 {
			meta[strings.TrimPrefix(lower, "x-amz-meta-")] = values[0]
		}
	}

	s.mu.Lock()
	objects, ok := s.buckets[bucket]
	if !ok {
		s.mu.Unlock()
		writeError(w, r, "NoSuchBucket", "The specified bucket does not exist", http.StatusNotFound)
		return
	}
	obj := newObject(key, data, r.Header.Get("Content-Type"), meta)
	if acl := r.Header.Get("x-amz-acl"); acl != "" {
		obj.ACL = acl
	}
	objects[key] = obj
	s.mu.Unlock()

	w.Header().Set("ETag", obj.ETag)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) putObjectACL(w http.ResponseWriter, r *http.Request) {
	bucket, key := mux.Vars(r)["bucket"], mux.Vars(r)["key"]
	if status := s.forced(bucket, key); status != 0 {
		writeError(w, r, codeFor(status), http.StatusText(status), status)
		return
	}
	_, _ = io.Copy(io.Discard, r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.buckets[bucket][key]
	if !ok {
		writeError(w, r, "NoSuchKey", "The specified key does not exist.", http.StatusNotFound)
		return
	}
	obj.ACL = r.Header.Get("x-amz-acl")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	q := r.URL.Query()
	if q.Get("list-type") != "2" {
		writeError(w, r, "NotImplemented", "only ListObjectsV2 is supported", http.StatusNotImplemented)
		return
	}
	if status := s.forced(bucket, q.Get("prefix")); status != 0 {
		writeError(w, r, codeFor(status), http.StatusText(status), status)
		return
	}

	prefix := q.Get("prefix")
	delimiter := q.Get("delimiter")
	maxKeys := 1000
	if v, err := strconv.Atoi(q.Get("max-keys")); err == nil && v > 0 {
		maxKeys = v
	}
	after := q.Get("continuation-token")

	s.mu.Lock()
	objects, ok := s.buckets[bucket]
	if !ok {
		s.mu.Unlock()
		writeError(w, r, "NoSuchBucket", "The specified bucket does not exist", http.StatusNotFound)
		return
	}
	keys := make([]string, 0, len(objects))
	for k := range objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	type entry struct {
		name   string
		object *Object
	}
	var entries []entry
	seen := make(map[string]bool)
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if !seen[cp] {
					seen[cp] = true
					entries = append(entries, entry{name: cp})
				}
				continue
			}
		}
		entries = append(entries, entry{name: k, object: objects[k]})
	}
	s.mu.Unlock()

	if after != "" {
		i := sort.Search(len(entries), func(i int) bool { return entries[i].name > after })
		entries = entries[i:]
	}

	result := ListBucketResultV2{
		Name:              bucket,
		Prefix:            prefix,
		Delimiter:         delimiter,
		MaxKeys:           maxKeys,
		ContinuationToken: after,
	}
	if len(entries) > maxKeys {
		entries = entries[:maxKeys]
		result.IsTruncated = true
		result.NextContinuationToken = entries[len(entries)-1].name
	}
	for _, e := range entries {
		if e.object == nil {
			result.CommonPrefixes = append(result.CommonPrefixes, CommonPrefix{Prefix: e.name})
			continue
		}
		result.Contents = append(result.Contents, Contents{
			Key:          e.object.Key,
			LastModified: e.object.LastModified.UTC(),
			ETag:         e.object.ETag,
			Size:         int64(len(e.object.Data)),
			StorageClass: "STANDARD",
		})
	}
	result.KeyCount = len(result.Contents) + len(result.CommonPrefixes)

	writeXML(w, result, http.StatusOK)
}

func newObject(key string, data []byte, contentType string, meta map[string]string) *Object {
	sum := md5.Sum(data)
	return &Object{
		Key:          key,
		Data:         data,
		ContentType:  contentType,
		Metadata:     meta,
		LastModified: time.Now().UTC().Truncate(time.Second),
		ETag:         `"` + hex.EncodeToString(sum[:]) + `"`,
	}
}

// parseRange handles the single "bytes=start-end" form the SDK sends.
func parseRange(header string, size int64) (int64, int64, bool) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, false
	}
	from, to, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(from, 10, 64)
	if err != nil || start >= size {
		return 0, 0, false
	}
	end := size - 1
	if to != "" {
		e, err := strconv.ParseInt(to, 10, 64)
		if err != nil || e < start {
			return 0, 0, false
		}
		end = min(e, size-1)
	}
	return start, end, true
}

func codeFor(status int) string {
	switch status {
	case http.StatusForbidden:
		return "AccessDenied"
	case http.StatusNotFound:
		return "NoSuchKey"
	case http.StatusServiceUnavailable:
		return "SlowDown"
	default:
		return "InternalError"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code, message string, status int) {
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	writeXML(w, Error{Code: code, Message: message, Resource: r.URL.Path}, status)
}

func writeXML(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return
	}
	_ = xml.NewEncoder(w).Encode(data)
}
