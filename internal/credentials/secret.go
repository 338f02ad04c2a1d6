package credentials

import (
	"context"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	wagonerrors "github.com/dc-tec/s3-wagon/internal/errors"
)

// Secret keys holding explicit credentials.
const (
	// SecretKeyAccessKeyID is the key for the access key ID.
	SecretKeyAccessKeyID = "accessKeyId"
	// SecretKeySecretAccessKey is the key for the secret access key.
	SecretKeySecretAccessKey = "secretAccessKey"
)

// SecretRef points at a Kubernetes Secret holding explicit credentials.
type SecretRef struct {
	Namespace string
	Name      string
}

// ParseSecretRef parses "namespace/name" or "name".
func ParseSecretRef(s string) (SecretRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SecretRef{}, fmt.Errorf("secret reference is empty")
	}
	ns, name, found := strings.Cut(s, "/")
	if !found {
		return SecretRef{Name: ns}, nil
	}
	if ns == "" || name == "" || strings.Contains(name, "/") {
		return SecretRef{}, fmt.Errorf("invalid secret reference %q, expected namespace/name", s)
	}
	return SecretRef{Namespace: ns, Name: name}, nil
}

func (r SecretRef) String() string {
	if r.Namespace == "" {
		return r.Name
	}
	return r.Namespace + "/" + r.Name
}

// LoadAuthInfoFromSecret loads explicit credentials from a Kubernetes Secret.
// A Secret without either key yields nil (the explicit source is then simply
// not configured). A Secret with only one of the two keys is rejected.
func LoadAuthInfoFromSecret(ctx context.Context, c client.Client, ref SecretRef, defaultNamespace string) (*AuthInfo, error) {
	namespace := ref.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}

	secret := &corev1.Secret{}
	if err := c.Get(ctx, types.NamespacedName{
		Namespace: namespace,
		Name:      ref.Name,
	}, secret); err != nil {
		return nil, fmt.Errorf("failed to get credentials Secret %s/%s: %w", namespace, ref.Name, err)
	}

	auth := &AuthInfo{
		Username: string(secret.Data[SecretKeyAccessKeyID]),
		Password: string(secret.Data[SecretKeySecretAccessKey]),
	}

	if auth.Username == "" && auth.Password == "" {
		return nil, nil
	}
	if auth.Username == "" || auth.Password == "" {
		return nil, fmt.Errorf("%w: credentials Secret %s/%s must contain both %s and %s, or neither",
			wagonerrors.ErrInvalidCredentials, namespace, ref.Name, SecretKeyAccessKeyID, SecretKeySecretAccessKey)
	}

	return auth, nil
}
