package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/pario-ai/spendguard/pkg/store"
	"github.com/pario-ai/spendguard/pkg/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, maxEntries int) storetest.Harness {
		var mu sync.Mutex
		offset := time.Duration(0)

		pending := NewPendingStore()
		pending.now = func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return time.Now().Add(offset)
		}

		return storetest.Harness{
			Stores: store.NewStores(
				NewPolicyStore(),
				NewBudgetStore(),
				NewNonceStore(),
				pending,
				NewAuditStore(maxEntries),
				nil,
			),
			Advance: func(d time.Duration) {
				mu.Lock()
				offset += d
				mu.Unlock()
			},
		}
	})
}
