//go:build integration
// +build integration

package integration

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/envtest"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/dc-tec/s3-wagon/internal/s3test"
)

const bucket = "integration-bucket"

var (
	testEnv   *envtest.Environment
	cfg       *rest.Config
	k8sClient client.Client
	ctx       context.Context
	cancel    context.CancelFunc

	// kubeErr is set when envtest binaries are unavailable; Secret specs skip.
	kubeErr error

	fakeS3   *s3test.Server
	endpoint string
	server   *httptest.Server
)

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "s3wagon integration suite")
}

var _ = BeforeSuite(func() {
	logf.SetLogger(zap.New(zap.WriteTo(GinkgoWriter), zap.UseDevMode(true)))
	ctx, cancel = context.WithCancel(context.Background())

	fakeS3 = s3test.New(bucket)
	server = httptest.NewServer(fakeS3)
	endpoint = server.URL

	scheme := runtime.NewScheme()
	Expect(clientgoscheme.AddToScheme(scheme)).To(Succeed())

	testEnv = &envtest.Environment{}
	if assetsDir := getFirstFoundEnvTestBinaryDir(); assetsDir != "" {
		testEnv.BinaryAssetsDirectory = assetsDir
	}
	cfg, kubeErr = testEnv.Start()
	if kubeErr != nil {
		GinkgoWriter.Printf("envtest unavailable, Secret specs will be skipped: %v\n", kubeErr)
		return
	}
	cfg.QPS = 20
	cfg.Burst = 40

	var err error
	k8sClient, err = client.New(cfg, client.Options{Scheme: scheme})
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if cancel != nil {
		cancel()
	}
	if server != nil {
		server.Close()
	}
	if kubeErr == nil && testEnv != nil {
		Expect(testEnv.Stop()).To(Succeed())
	}
})

// getFirstFoundEnvTestBinaryDir returns the first envtest asset directory
// under bin/k8s, so the suite also runs outside make.
func getFirstFoundEnvTestBinaryDir() string {
	basePath := filepath.Join("..", "..", "bin", "k8s")
	entries, err := os.ReadDir(basePath)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() {
			return filepath.Join(basePath, entry.Name())
		}
	}
	return ""
}
