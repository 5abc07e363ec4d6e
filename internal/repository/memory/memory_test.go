package memory_test

import (
	"testing"

	"github.com/splax/kubehost/internal/repository"
	"github.com/splax/kubehost/internal/repository/memory"
	"github.com/splax/kubehost/internal/repository/repotest"
)

func TestMemoryRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repository.Apps {
		return memory.New()
	})
}
