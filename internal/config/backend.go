package config

import (
	"fmt"
	"strings"
)

const (
	BackendNative = "native"
	BackendTorch  = "torch"
)

func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	if backend == "" {
		backend = BackendNative
	}

	switch backend {
	case BackendNative, BackendTorch:
		return backend, nil
	case "pytorch", "python":
		return BackendTorch, nil
	default:
		return "", fmt.Errorf("invalid backend %q (expected %s|%s)", raw, BackendNative, BackendTorch)
	}
}
