package bardb

import (
	"context"
	"testing"
	"time"

	"ibharvest/internal/market"
	"ibharvest/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteBatchReplacesRows(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	key := store.BatchKey{Symbol: "nq", Date: time.Date(2016, 6, 22, 0, 0, 0, 0, time.UTC), RegularHoursOnly: true}

	bars := []market.Bar{
		market.NewBar("20160622  09:30:00", 4400.25, 4401, 4399.75, 4400.5, 812),
		market.NewBar("20160622  09:31:00", 4400.5, 4402, 4400, 4401.75, 640),
		market.NewBar("20160622  09:32:00", 4401.75, 4403.25, 4401, 4403, 590),
	}
	dest, err := s.WriteBatch(ctx, key, bars)
	require.NoError(t, err)
	assert.Contains(t, dest, "NQ.db#NQ_20160622_1")

	_, err = s.WriteBatch(ctx, key, bars[1:])
	require.NoError(t, err)

	got, err := s.QueryBatch(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "20160622  09:31:00", got[0].Time)
	assert.True(t, got[1].High.Equal(bars[2].High))

	other := key
	other.RegularHoursOnly = false
	_, err = s.WriteBatch(ctx, other, nil)
	require.NoError(t, err)

	infos, err := s.Batches(ctx, "NQ")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.True(t, infos[0].RTH)
	assert.Equal(t, int64(2), infos[0].Rows)
	assert.False(t, infos[1].RTH)
	assert.Equal(t, int64(0), infos[1].Rows)
}
