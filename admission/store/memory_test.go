package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/visit-engine/admission"
	"github.com/warp/visit-engine/admission/store"
	"github.com/warp/visit-engine/admission/store/storetest"
)

func TestTxMemory(t *testing.T) {
	storetest.Run(t, func(*testing.T) admission.TxStore {
		return store.NewTxMemory()
	})
}

func TestTxMemory_SerializesTransactions(t *testing.T) {
	// GIVEN: Many transactions each incrementing the same counter field
	ctx := context.Background()
	s := store.NewTxMemory()
	require.NoError(t, s.SaveHost(ctx, admission.Host{ID: "H1", Name: ""}))

	// WHEN: They run concurrently
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx admission.Store) error {
				h, err := tx.GetHost(ctx, "H1")
				if err != nil {
					return err
				}
				h.Name += "x"
				return tx.SaveHost(ctx, *h)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// THEN: No update was lost
	h, err := s.GetHost(ctx, "H1")
	require.NoError(t, err)
	assert.Len(t, h.Name, 20)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.CreatePerson(ctx, admission.Person{ID: "p1", Kind: admission.KindGuest, Name: "Ada"}))

	p, err := s.GetPerson(ctx, "p1")
	require.NoError(t, err)
	p.Name = "changed"

	again, err := s.GetPerson(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", again.Name)
}
