package k8s

import (
	"context"
	"testing"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/fake"
)

func TestNewClientWithInterfaceDefaultsNamespace(t *testing.T) {
	c := NewClientWithInterface(fake.NewSimpleClientset(), "")
	if c.Namespace() != "default" {
		t.Errorf("Namespace() = %v, want default", c.Namespace())
	}
}

func TestIdentity(t *testing.T) {
	if got := Identity("poller-abc"); got != "poller-abc" {
		t.Errorf("Identity() = %v, want poller-abc", got)
	}
	if got := Identity(""); got == "" {
		t.Error("Identity(\"\") returned empty identity")
	}
}

func TestResolveOwnerDeployment(t *testing.T) {
	deploy := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "poller", Namespace: "live", UID: types.UID("uid-1")}}
	rs := &appsv1.ReplicaSet{ObjectMeta: metav1.ObjectMeta{
		Name:            "poller-7c9",
		Namespace:       "live",
		OwnerReferences: []metav1.OwnerReference{{Kind: "Deployment", Name: "poller"}},
	}}
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{
		Name:            "poller-7c9-x1",
		Namespace:       "live",
		OwnerReferences: []metav1.OwnerReference{{Kind: "ReplicaSet", Name: "poller-7c9"}},
	}}
	orphan := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "bare", Namespace: "live"}}

	c := NewClientWithInterface(fake.NewSimpleClientset(deploy, rs, pod, orphan), "live")

	ref, err := c.ResolveOwnerDeployment(context.Background(), "poller-7c9-x1")
	if err != nil {
		t.Fatalf("ResolveOwnerDeployment() error = %v", err)
	}
	if ref.Kind != "Deployment" || ref.Name != "poller" || ref.UID != "uid-1" {
		t.Errorf("owner = %+v, want Deployment poller uid-1", ref)
	}
	if ref.BlockOwnerDeletion == nil || !*ref.BlockOwnerDeletion {
		t.Error("BlockOwnerDeletion not set")
	}

	if _, err := c.ResolveOwnerDeployment(context.Background(), "bare"); err == nil {
		t.Error("ResolveOwnerDeployment(bare) error = nil, want error")
	}
	if _, err := c.ResolveOwnerDeployment(context.Background(), "missing"); err == nil {
		t.Error("ResolveOwnerDeployment(missing) error = nil, want error")
	}
}

func TestEnsureLease(t *testing.T) {
	cs := fake.NewSimpleClientset()
	c := NewClientWithInterface(cs, "live")
	owner := &metav1.OwnerReference{APIVersion: "apps/v1", Kind: "Deployment", Name: "poller", UID: "uid-1"}

	for i := 0; i < 2; i++ {
		if err := c.EnsureLease(context.Background(), "stream-poller", owner); err != nil {
			t.Fatalf("EnsureLease() call %d error = %v", i+1, err)
		}
	}

	lease, err := cs.CoordinationV1().Leases("live").Get(context.Background(), "stream-poller", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get lease error = %v", err)
	}
	if len(lease.OwnerReferences) != 1 || lease.OwnerReferences[0].Name != "poller" {
		t.Errorf("owner references = %+v, want poller", lease.OwnerReferences)
	}
	if lease.Labels[LabelApp] != LabelAppValue {
		t.Errorf("labels = %v", lease.Labels)
	}
}

func TestRunLeaderElectedRequiresIdentity(t *testing.T) {
	c := NewClientWithInterface(fake.NewSimpleClientset(), "live")
	err := c.RunLeaderElected(context.Background(), LeaderConfig{LeaseName: "x"}, func(context.Context) {})
	if err == nil {
		t.Error("RunLeaderElected() error = nil, want error")
	}
}

func TestRunLeaderElected(t *testing.T) {
	cs := fake.NewSimpleClientset()
	c := NewClientWithInterface(cs, "live")

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.RunLeaderElected(ctx, LeaderConfig{
			LeaseName:     "stream-poller",
			Identity:      "poller-0",
			LeaseDuration: time.Second,
			RenewDeadline: 500 * time.Millisecond,
			RetryPeriod:   100 * time.Millisecond,
		}, func(leaderCtx context.Context) {
			close(started)
			<-leaderCtx.Done()
		})
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("never acquired leadership")
	}

	lease, err := cs.CoordinationV1().Leases("live").Get(context.Background(), "stream-poller", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get lease error = %v", err)
	}
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != "poller-0" {
		t.Errorf("holder = %v, want poller-0", lease.Spec.HolderIdentity)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunLeaderElected() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunLeaderElected did not return after cancel")
	}
}
