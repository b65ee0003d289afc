package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// Controller scales the worker fleet. Capacity is advisory only; claim
// correctness never depends on it.
type Controller interface {
	SetDesiredWorkerCount(ctx context.Context, n int) error
	RunningWorkerCount(ctx context.Context) (int, error)
}

// KubectlController drives a worker Deployment through the kubectl CLI.
type KubectlController struct {
	Namespace  string
	Deployment string
}

func (k *KubectlController) SetDesiredWorkerCount(ctx context.Context, n int) error {
	cmd := exec.CommandContext(ctx, "kubectl", "scale", "deployment", k.Deployment,
		"--replicas", strconv.Itoa(n), "-n", k.Namespace)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("scale %s to %d: %w: %s", k.Deployment, n, err, out)
	}
	return nil
}

func (k *KubectlController) RunningWorkerCount(ctx context.Context) (int, error) {
	cmd := exec.CommandContext(ctx, "kubectl", "get", "pods", "-n", k.Namespace, "-o", "json")
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("get pods: %w", err)
	}
	return countRunningPods(out)
}

func countRunningPods(podsJSON []byte) (int, error) {
	var pods struct {
		Items []struct {
			Status struct {
				Phase string `json:"phase"`
			} `json:"status"`
		} `json:"items"`
	}
	if err := json.Unmarshal(podsJSON, &pods); err != nil {
		return 0, fmt.Errorf("parse pod list: %w", err)
	}

	running := 0
	for _, pod := range pods.Items {
		if pod.Status.Phase == "Running" {
			running++
		}
	}
	return running, nil
}
