// Package session owns the lifecycle of one connection to an S3 repository.
//
// A Session resolves credentials, builds its own HTTP and S3 clients and hands
// them to a transport.Transport. Sessions share nothing: two sessions in one
// process never see each other's client or credentials.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/dc-tec/s3-wagon/internal/credentials"
	wagonerrors "github.com/dc-tec/s3-wagon/internal/errors"
	"github.com/dc-tec/s3-wagon/internal/logging"
	"github.com/dc-tec/s3-wagon/internal/mimetype"
	"github.com/dc-tec/s3-wagon/internal/transport"
)

// State is the session lifecycle state.
type State int

const (
	StateUnopened State = iota
	StateOpening
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "Unopened"
	case StateOpening:
		return "Opening"
	case StateOpen:
		return "Open"
	case StateClosed:
		return "Closed"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Options configures a Session.
type Options struct {
	// Credentials tunes the default credential chain.
	Credentials credentials.Options
	// Chain replaces the default credential chain when set.
	Chain *credentials.Chain
	// MimeTypes resolves upload content types. Nil loads the bundled table.
	MimeTypes *mimetype.Resolver
	// Listener receives transfer events in addition to the session log.
	Listener transport.Listener
	// Logger is the base logger; every line carries the session id.
	Logger logr.Logger
	// Concurrency and RequestsPerSecond tune directory uploads.
	Concurrency       int
	RequestsPerSecond float64
}

// Session is one open/close cycle against a repository.
type Session struct {
	id   string
	opts Options
	log  logr.Logger

	mu         sync.Mutex
	state      State
	repo       Repository
	httpClient *http.Client
	client     *s3.Client
	transport  *transport.Transport
}

// New returns an unopened session.
func New(opts Options) *Session {
	id := uuid.NewString()
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Session{
		id:   id,
		opts: opts,
		log:  log.WithValues("session", id),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Repository returns the repository the session was opened against.
func (s *Session) Repository() Repository {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo
}

// Open resolves credentials, builds the clients and connects the transport.
// A failed open leaves the session Unopened. Opening an open or closed
// session is a programming error. The session lock is not held while
// credentials resolve; a Close in the meantime wins.
func (s *Session) Open(ctx context.Context, repo Repository, auth *credentials.AuthInfo) error {
	s.mu.Lock()
	if s.state != StateUnopened {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot open a session in state %s", wagonerrors.ErrProgrammingError, state)
	}
	s.state = StateOpening
	s.mu.Unlock()

	c, err := s.open(ctx, repo, auth)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.state == StateOpening {
			s.state = StateUnopened
		}
		logging.LogAuditEvent(s.log, logging.AuditOpenFailed, map[string]string{
			"repository": repo.String(),
			"error":      err.Error(),
		})
		return err
	}
	if s.state != StateOpening {
		// Closed while opening.
		c.httpClient.CloseIdleConnections()
		return fmt.Errorf("%w: session was closed while opening", wagonerrors.ErrProgrammingError)
	}

	s.repo = repo
	s.httpClient = c.httpClient
	s.client = c.client
	s.transport = c.transport
	c.transport.Connect()
	s.state = StateOpen
	return nil
}

// opened holds what a successful open built.
type opened struct {
	httpClient *http.Client
	client     *s3.Client
	transport  *transport.Transport
}

func (s *Session) open(ctx context.Context, repo Repository, auth *credentials.AuthInfo) (*opened, error) {
	if err := repo.Validate(); err != nil {
		return nil, wagonerrors.WrapPermanentConfig(fmt.Errorf("invalid repository %s: %w", repo, err))
	}

	chain := s.opts.Chain
	if chain == nil {
		chain = credentials.DefaultChain(auth, s.opts.Credentials)
	}
	creds, source, err := chain.Resolve(ctx)
	if err != nil {
		if errors.Is(err, wagonerrors.ErrAuthenticationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", wagonerrors.ErrAuthenticationFailed, err)
	}
	s.log.V(1).Info("Resolved credentials", "source", source, "credentials", credentials.Redact(creds))

	if repo.Proxy != nil && (repo.Proxy.NTLMDomain != "" || repo.Proxy.NTLMHost != "") {
		s.log.Info("NTLM proxy settings are ignored, using Basic proxy authentication", "proxy", repo.Proxy.Host)
	}

	buildable, err := buildHTTPClient(repo)
	if err != nil {
		return nil, wagonerrors.WrapPermanentConfig(fmt.Errorf("failed to create HTTP client: %w", err))
	}
	awsCfg, httpClient, err := buildAWSConfig(ctx, repo, creds, buildable)
	if err != nil {
		return nil, err
	}
	client := newS3Client(awsCfg, repo)

	mime := s.opts.MimeTypes
	if mime == nil {
		if mime, err = mimetype.New(); err != nil {
			httpClient.CloseIdleConnections()
			return nil, fmt.Errorf("failed to load MIME types: %w", err)
		}
	}
	s.log.V(1).Info("Loaded MIME types", "entries", mime.Len())

	listeners := transport.Listeners{logging.NewEventLogger(s.log)}
	if s.opts.Listener != nil {
		listeners = append(listeners, s.opts.Listener)
	}

	t := transport.New(client, transport.Options{
		Bucket:            repo.Bucket,
		BaseDirectory:     repo.BaseDirectory,
		PublicRead:        repo.PublicRead,
		MimeTypes:         mime,
		Listener:          listeners,
		Logger:            s.log,
		Concurrency:       s.opts.Concurrency,
		RequestsPerSecond: s.opts.RequestsPerSecond,
	})

	logging.LogAuditEvent(s.log, logging.AuditSessionOpened, map[string]string{
		"repository":        repo.String(),
		"region":            repo.region(),
		"credential_source": source,
		"prefix":            t.Prefix(),
	})
	return &opened{httpClient: httpClient, client: client, transport: t}, nil
}

// Transport returns the connected transport. It fails with
// ErrProgrammingError unless the session is Open.
func (s *Session) Transport() (*transport.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return nil, fmt.Errorf("%w: session is %s, not Open", wagonerrors.ErrProgrammingError, s.state)
	}
	return s.transport, nil
}

// Client returns the session's S3 client, nil unless the session is Open.
func (s *Session) Client() *s3.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return nil
	}
	return s.client
}

// Close disconnects the transport and releases idle connections. Closing a
// closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	wasOpen := s.state == StateOpen
	if s.transport != nil {
		s.transport.Disconnect()
	}
	s.closeIdle()
	s.client = nil
	s.state = StateClosed

	if wasOpen {
		logging.LogAuditEvent(s.log, logging.AuditSessionClosed, map[string]string{
			"repository": s.repo.String(),
		})
	}
	return nil
}

func (s *Session) closeIdle() {
	if s.httpClient != nil {
		s.httpClient.CloseIdleConnections()
		s.httpClient = nil
	}
}
