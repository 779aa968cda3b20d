// Package k8sprobe is the Kubernetes Probe: a read-only view into cluster
// state, used by the Provisioning Worker's readiness poll loop and by the
// Recovery Controller.
package k8sprobe

import (
	"context"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// JobPhase mirrors the four states of §4.3's job_status query; it doesn't
// reuse batchv1 directly because Pending/Running/Succeeded/Failed is a
// simplification over the Job's richer condition set.
type JobPhase string

const (
	JobPending   JobPhase = "Pending"
	JobRunning   JobPhase = "Running"
	JobSucceeded JobPhase = "Succeeded"
	JobFailed    JobPhase = "Failed"
)

// PodsReadyResult is the pods_ready query result.
type PodsReadyResult struct {
	Ready     int
	Total     int
	AnyFailed bool
}

// TransientError marks a Probe failure the Worker should retry on the next
// poll tick rather than treat as terminal (spec §4.3).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient cluster error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Probe is the Kubernetes Probe. It holds a single client-go clientset and
// performs only read operations plus namespace deletion on tear-down.
type Probe struct {
	client kubernetes.Interface
}

// New builds a Probe from a kubeconfig path. An empty path uses client-go's
// in-cluster config resolution via the default loading rules.
func New(kubeconfigPath string) (*Probe, error) {
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("build kubeconfig: %w", err)
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build clientset: %w", err)
	}
	return &Probe{client: client}, nil
}

// NewFromClient wraps an already-constructed clientset (used in tests with
// a fake clientset).
func NewFromClient(client kubernetes.Interface) *Probe {
	return &Probe{client: client}
}

const releaseLabelKey = "app.kubernetes.io/instance"

// PodsReady reports aggregate pod readiness for a release within a
// namespace. A pod is ready when all of its containers report ready.
func (p *Probe) PodsReady(ctx context.Context, namespace, release string) (PodsReadyResult, error) {
	pods, err := p.client.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: releaseLabelKey + "=" + release,
	})
	if err != nil {
		return PodsReadyResult{}, &TransientError{Op: "pods_ready", Err: err}
	}

	var out PodsReadyResult
	out.Total = len(pods.Items)
	for i := range pods.Items {
		pod := &pods.Items[i]
		if isTerminalFailure(pod) {
			out.AnyFailed = true
		}
		if podReady(pod) {
			out.Ready++
		}
	}
	return out, nil
}

func podReady(pod *corev1.Pod) bool {
	if len(pod.Status.ContainerStatuses) == 0 {
		return false
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if !cs.Ready {
			return false
		}
	}
	return true
}

// crashLoopThreshold is the restart count beyond which a CrashLoopBackOff
// container counts as a terminal failure rather than a pod still settling.
const crashLoopThreshold = 5

func isTerminalFailure(pod *corev1.Pod) bool {
	if pod.Status.Phase == corev1.PodFailed {
		return true
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason == "CrashLoopBackOff" && cs.RestartCount > crashLoopThreshold {
			return true
		}
	}
	return false
}

// JobStatus reports the lifecycle of the conventional "<id>-<engine>-setup"
// job. A missing job is Pending, not absence, per §4.4.1.
func (p *Probe) JobStatus(ctx context.Context, namespace, jobName string) (JobPhase, error) {
	job, err := p.client.BatchV1().Jobs(namespace).Get(ctx, jobName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return JobPending, nil
	}
	if err != nil {
		return "", &TransientError{Op: "job_status", Err: err}
	}
	return classifyJob(job), nil
}

func classifyJob(job *batchv1.Job) JobPhase {
	for _, cond := range job.Status.Conditions {
		if cond.Status != corev1.ConditionTrue {
			continue
		}
		switch cond.Type {
		case batchv1.JobComplete:
			return JobSucceeded
		case batchv1.JobFailed:
			return JobFailed
		}
	}
	if job.Status.Active > 0 {
		return JobRunning
	}
	return JobPending
}

// IngressHost returns the release's ingress hostname, or "" if none is
// assigned yet.
func (p *Probe) IngressHost(ctx context.Context, namespace, release string) (string, error) {
	ingresses, err := p.client.NetworkingV1().Ingresses(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: releaseLabelKey + "=" + release,
	})
	if err != nil {
		return "", &TransientError{Op: "ingress_host", Err: err}
	}
	for _, ing := range ingresses.Items {
		for _, rule := range ing.Spec.Rules {
			if rule.Host != "" {
				return rule.Host, nil
			}
		}
	}
	return "", nil
}

// NamespaceExists reports whether namespace currently exists.
func (p *Probe) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	_, err := p.client.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, &TransientError{Op: "namespace_exists", Err: err}
	}
	return true, nil
}

// DeleteNamespace deletes a namespace. A namespace that is already gone is
// treated as success: tear-down is best-effort per §4.4's delete task.
func (p *Probe) DeleteNamespace(ctx context.Context, namespace string) error {
	err := p.client.CoreV1().Namespaces().Delete(ctx, namespace, metav1.DeleteOptions{})
	if err == nil || apierrors.IsNotFound(err) {
		return nil
	}
	return &TransientError{Op: "delete_namespace", Err: err}
}
