//go:build integration
// +build integration

package integration

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dc-tec/s3-wagon/internal/credentials"
	wagonerrors "github.com/dc-tec/s3-wagon/internal/errors"
	"github.com/dc-tec/s3-wagon/internal/metrics"
	"github.com/dc-tec/s3-wagon/internal/session"
	"github.com/dc-tec/s3-wagon/internal/transport"
)

var _ = Describe("Transport against an S3 endpoint", func() {
	var (
		repo session.Repository
		t    *transport.Transport
	)

	BeforeEach(func() {
		repo = newRepository()
		_, t = openTransport(repo, session.Options{})
	})

	It("round-trips an artifact with its content type and timestamp", func() {
		local := filepath.Join(GinkgoT().TempDir(), "lib-1.0.jar")
		Expect(os.WriteFile(local, []byte("PK\x03\x04jar"), 0o644)).To(Succeed())
		stamp := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
		Expect(os.Chtimes(local, stamp, stamp)).To(Succeed())

		Expect(t.StoreFile(ctx, local, "org/example/lib/1.0/lib-1.0.jar")).To(Succeed())

		meta, err := t.FetchMetadata(ctx, "org/example/lib/1.0/lib-1.0.jar")
		Expect(err).NotTo(HaveOccurred())
		Expect(meta.ContentType).To(Equal("application/java-archive"))
		Expect(meta.LastModified.Equal(stamp)).To(BeTrue())
		Expect(meta.Key).To(Equal(repo.BaseDirectory + "/org/example/lib/1.0/lib-1.0.jar"))

		dest := filepath.Join(GinkgoT().TempDir(), "out", "lib.jar")
		_, err = t.FetchToFile(ctx, "org/example/lib/1.0/lib-1.0.jar", dest)
		Expect(err).NotTo(HaveOccurred())
		Expect(os.ReadFile(dest)).To(Equal([]byte("PK\x03\x04jar")))
		info, err := os.Stat(dest)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.ModTime().Equal(stamp)).To(BeTrue())
	})

	It("lists only immediate children", func() {
		root := GinkgoT().TempDir()
		writeTree(root, map[string]string{
			"maven-metadata.xml":    "<metadata/>",
			"1.0/lib-1.0.pom":       "<project/>",
			"1.0/lib-1.0.jar":       "jar",
			"1.1/lib-1.1.jar":       "jar",
			".idea/workspace.xml":   "hidden",
			"1.1/.lib-1.1.jar.swp":  "hidden",
			"1.1/nested/deep/a.txt": "deep",
		})
		Expect(t.StoreDirectory(ctx, root, "org/example/lib")).To(Succeed())

		Expect(t.ListChildren(ctx, "org/example/lib")).To(Equal([]string{"1.0", "1.1", "maven-metadata.xml"}))
		Expect(t.ListChildren(ctx, "org/example/lib/1.1/")).To(Equal([]string{"lib-1.1.jar", "nested"}))

		_, err := t.ListChildren(ctx, "org/example/other")
		Expect(err).To(MatchError(wagonerrors.ErrResourceNotFound))
	})

	It("fetches only when the remote copy is not newer", func() {
		local := filepath.Join(GinkgoT().TempDir(), "index.html")
		Expect(os.WriteFile(local, []byte("<html/>"), 0o644)).To(Succeed())
		stamp := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		Expect(os.Chtimes(local, stamp, stamp)).To(Succeed())
		Expect(t.StoreFile(ctx, local, "index.html")).To(Succeed())

		var buf bytes.Buffer
		ok, err := t.FetchIfNewer(ctx, "index.html", stamp.Add(-time.Hour), &buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
		Expect(buf.Len()).To(BeZero())

		ok, err = t.FetchIfNewer(ctx, "index.html", stamp.Add(time.Hour), &buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(buf.String()).To(Equal("<html/>"))

		ok, err = t.FetchIfNewer(ctx, "absent.html", stamp, &buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("maps store errors onto the error taxonomy", func() {
		fakeS3.FailWith(bucket, repo.BaseDirectory+"/denied.txt", http.StatusForbidden)
		fakeS3.FailWith(bucket, repo.BaseDirectory+"/broken.txt", http.StatusInternalServerError)

		_, _, err := t.Fetch(ctx, "denied.txt")
		Expect(err).To(MatchError(wagonerrors.ErrResourceNotFound))
		Expect(wagonerrors.StatusCode(err)).To(Equal(http.StatusForbidden))

		Expect(t.Exists(ctx, "denied.txt")).To(BeFalse())

		err = t.Store(ctx, "broken.txt", body(nil), 0, time.Time{})
		Expect(err).To(MatchError(wagonerrors.ErrTransferFailed))
		Expect(wagonerrors.ShouldRetry(err)).To(BeFalse())
	})

	It("uploads concurrently with pacing", func() {
		_, paced := openTransport(repo, session.Options{Concurrency: 4, RequestsPerSecond: 200})

		files := map[string]string{}
		for i := range 12 {
			files[filepath.Join("assets", string(rune('a'+i))+".css")] = "body{}"
		}
		root := GinkgoT().TempDir()
		writeTree(root, files)

		Expect(paced.StoreDirectory(ctx, root, "site")).To(Succeed())
		children, err := paced.ListChildren(ctx, "site/assets")
		Expect(err).NotTo(HaveOccurred())
		Expect(children).To(HaveLen(12))
	})
})

var _ = Describe("Session lifecycle", func() {
	It("reports events to listeners and metrics", func() {
		var (
			mu     sync.Mutex
			events []transport.Event
		)
		repo := newRepository()
		m := metrics.NewMetrics(bucket)
		DeferCleanup(m.Clear)

		_, t := openTransport(repo, session.Options{
			Listener: transport.Listeners{m, transport.ListenerFunc(func(e transport.Event) {
				mu.Lock()
				defer mu.Unlock()
				events = append(events, e)
			})},
		})

		Expect(t.Store(ctx, "a.txt", body([]byte("abc")), 3, time.Time{})).To(Succeed())

		mu.Lock()
		defer mu.Unlock()
		var types []transport.EventType
		for _, e := range events {
			types = append(types, e.Type)
		}
		Expect(types).To(ContainElements(transport.EventInitiated, transport.EventStarted, transport.EventCompleted))
		Expect(events[len(events)-1].Bytes).To(Equal(int64(3)))
	})

	It("rejects use after close", func() {
		s, t := openTransport(newRepository(), session.Options{})
		Expect(s.Close()).To(Succeed())
		Expect(s.State()).To(Equal(session.StateClosed))

		_, err := t.Exists(ctx, "a.txt")
		Expect(err).To(MatchError(wagonerrors.ErrProgrammingError))
	})

	It("fails to open without credentials", func() {
		s := session.New(session.Options{
			Chain: credentials.NewChain(credentials.ExplicitSource(nil)),
		})
		err := s.Open(ctx, newRepository(), nil)
		Expect(err).To(MatchError(wagonerrors.ErrAuthenticationFailed))
		Expect(s.State()).To(Equal(session.StateUnopened))
	})
})

var _ = Describe("Credentials from a Kubernetes Secret", func() {
	BeforeEach(requireKube)

	It("opens a session with the Secret's keys", func() {
		ns := newTestNamespace()
		createCredentialsSecret(ns, "s3-creds", map[string]string{
			credentials.SecretKeyAccessKeyID:     "AKIDFROMSECRET",
			credentials.SecretKeySecretAccessKey: "secret-from-secret",
		})

		auth, err := credentials.LoadAuthInfoFromSecret(ctx, k8sClient, credentials.SecretRef{Name: "s3-creds"}, ns)
		Expect(err).NotTo(HaveOccurred())
		Expect(auth).To(Equal(&credentials.AuthInfo{Username: "AKIDFROMSECRET", Password: "secret-from-secret"}))

		before := len(fakeS3.Requests())
		_, t := openTransport(newRepository(), session.Options{
			Chain: credentials.NewChain(credentials.ExplicitSource(auth)),
		})
		Expect(t.Exists(ctx, "x")).To(BeFalse())

		reqs := fakeS3.Requests()[before:]
		Expect(reqs).NotTo(BeEmpty())
		Expect(reqs[len(reqs)-1].Authorization).To(ContainSubstring("AKIDFROMSECRET"))
	})

	It("rejects a Secret with only one key", func() {
		ns := newTestNamespace()
		createCredentialsSecret(ns, "half", map[string]string{
			credentials.SecretKeyAccessKeyID: "AKIDONLY",
		})

		_, err := credentials.LoadAuthInfoFromSecret(ctx, k8sClient, credentials.SecretRef{Namespace: ns, Name: "half"}, "default")
		Expect(err).To(MatchError(wagonerrors.ErrInvalidCredentials))
	})
})
