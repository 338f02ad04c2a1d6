//go:build integration
// +build integration

package integration

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/dc-tec/s3-wagon/internal/credentials"
	"github.com/dc-tec/s3-wagon/internal/session"
	"github.com/dc-tec/s3-wagon/internal/transport"
)

// newRepository returns a repository rooted at a fresh base directory so
// specs never see each other's objects.
func newRepository() session.Repository {
	return session.Repository{
		Bucket:        bucket,
		BaseDirectory: fmt.Sprintf("it/%d", time.Now().UnixNano()),
		Endpoint:      endpoint,
		UsePathStyle:  true,
		Timeout:       5 * time.Second,
	}
}

func explicitAuth() *credentials.AuthInfo {
	return &credentials.AuthInfo{Username: "AKIDINTEGRATION", Password: "integration-secret"}
}

// openTransport opens a session with explicit credentials and registers
// its cleanup.
func openTransport(repo session.Repository, opts session.Options) (*session.Session, *transport.Transport) {
	if opts.Chain == nil {
		opts.Chain = credentials.NewChain(credentials.ExplicitSource(explicitAuth()))
	}
	s := session.New(opts)
	Expect(s.Open(ctx, repo, nil)).To(Succeed())
	DeferCleanup(func() { _ = s.Close() })

	t, err := s.Transport()
	Expect(err).NotTo(HaveOccurred())
	return s, t
}

func writeTree(root string, files map[string]string) {
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
	}
}

func newTestNamespace() string {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: fmt.Sprintf("it-wagon-%d", time.Now().UnixNano()),
		},
	}
	Expect(k8sClient.Create(ctx, ns)).To(Succeed())
	DeferCleanup(func() { _ = k8sClient.Delete(ctx, ns) })
	return ns.Name
}

func createCredentialsSecret(namespace, name string, data map[string]string) {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		StringData: data,
	}
	Expect(k8sClient.Create(ctx, secret)).To(Succeed())
}

func requireKube() {
	if kubeErr != nil {
		Skip("envtest is not available: " + kubeErr.Error())
	}
}

// body is an in-memory upload body without a Seek method, as a pipe would be.
func body(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewBuffer(data))
}
