package k8s

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	coordinationv1 "k8s.io/api/coordination/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"

	"github.com/xpadev-net/memorial-livestream/internal/log"
	"go.uber.org/zap"
)

const (
	// LabelApp is the app label applied to objects this service creates.
	LabelApp = "app"
	// LabelAppValue is the value for the app label.
	LabelAppValue = "memorial-livestream-poller"
)

// Client wraps Kubernetes client operations.
type Client struct {
	clientset kubernetes.Interface
	namespace string
}

// Config holds configuration for creating a K8s client.
type Config struct {
	InCluster      bool
	KubeConfigPath string
	Namespace      string
}

// NewClient creates a new Kubernetes client.
func NewClient(cfg Config) (*Client, error) {
	var config *rest.Config
	var err error

	if cfg.InCluster {
		config, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("create in-cluster config: %w", err)
		}
	} else {
		kubeconfig := cfg.KubeConfigPath
		if kubeconfig == "" {
			if home := homedir.HomeDir(); home != "" {
				kubeconfig = filepath.Join(home, ".kube", "config")
			}
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("create out-of-cluster config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}
	return NewClientWithInterface(clientset, cfg.Namespace), nil
}

// NewClientWithInterface wraps an existing clientset.
func NewClientWithInterface(clientset kubernetes.Interface, namespace string) *Client {
	if namespace == "" {
		namespace = "default"
	}
	return &Client{clientset: clientset, namespace: namespace}
}

// Namespace returns the namespace the client operates in.
func (c *Client) Namespace() string {
	return c.namespace
}

// Identity returns the leader election identity of this process: the pod
// name when known, else the hostname.
func Identity(podName string) string {
	if podName != "" {
		return podName
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fmt.Sprintf("poller-%d", time.Now().UnixNano())
}

// ResolveOwnerDeployment resolves the owner Deployment by traversing the
// owner chain: Pod → ReplicaSet → Deployment.
func (c *Client) ResolveOwnerDeployment(ctx context.Context, podName string) (*metav1.OwnerReference, error) {
	pod, err := c.clientset.CoreV1().Pods(c.namespace).Get(ctx, podName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("get pod %q: %w", podName, err)
	}

	rsRef := findOwnerReference(pod.OwnerReferences, "ReplicaSet")
	if rsRef == nil {
		return nil, fmt.Errorf("pod %q has no ReplicaSet owner", podName)
	}

	rs, err := c.clientset.AppsV1().ReplicaSets(c.namespace).Get(ctx, rsRef.Name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("get ReplicaSet %q: %w", rsRef.Name, err)
	}

	deployRef := findOwnerReference(rs.OwnerReferences, "Deployment")
	if deployRef == nil {
		return nil, fmt.Errorf("ReplicaSet %q has no Deployment owner", rsRef.Name)
	}

	deploy, err := c.clientset.AppsV1().Deployments(c.namespace).Get(ctx, deployRef.Name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("get Deployment %q: %w", deployRef.Name, err)
	}
	return buildDeploymentOwnerReference(deploy), nil
}

// EnsureLease creates the election Lease if it does not exist yet, owned
// by owner so it is garbage collected with the poller Deployment. An
// existing Lease is left untouched.
func (c *Client) EnsureLease(ctx context.Context, name string, owner *metav1.OwnerReference) error {
	lease := &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: c.namespace,
			Labels:    map[string]string{LabelApp: LabelAppValue},
		},
	}
	if owner != nil {
		lease.OwnerReferences = []metav1.OwnerReference{*owner}
	}

	_, err := c.clientset.CoordinationV1().Leases(c.namespace).Create(ctx, lease, metav1.CreateOptions{})
	if errors.IsAlreadyExists(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create lease %q: %w", name, err)
	}
	log.Info("created election lease",
		zap.String("lease", name),
		zap.String("namespace", c.namespace),
	)
	return nil
}

func findOwnerReference(refs []metav1.OwnerReference, kind string) *metav1.OwnerReference {
	for i := range refs {
		if refs[i].Kind == kind {
			return &refs[i]
		}
	}
	return nil
}

func buildDeploymentOwnerReference(deploy *appsv1.Deployment) *metav1.OwnerReference {
	return &metav1.OwnerReference{
		APIVersion:         "apps/v1",
		Kind:               "Deployment",
		Name:               deploy.Name,
		UID:                deploy.UID,
		BlockOwnerDeletion: boolPtr(true),
	}
}

func boolPtr(value bool) *bool {
	return &value
}
