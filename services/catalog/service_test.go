package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clinic-engagement/pkg/db/option"
	"clinic-engagement/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestFindPlanAndTreatment(t *testing.T) {
	db := testutil.NewTestDB(t, &Plan{}, &Treatment{})
	member := int64(3000)
	require.NoError(t, db.Create(&Plan{TenantID: "t1", ID: "gold", Name: "Gold", PriceCents: 4900, IncludedTreatmentIDs: []string{"facial"}}).Error)
	require.NoError(t, db.Create(&Treatment{TenantID: "t1", ID: "peel", Name: "Peel", PriceCents: 5000, MemberPriceCents: &member}).Error)

	svc := NewService(ServiceParams{DB: db})
	ctx := context.Background()

	plan, err := svc.FindPlan(ctx, "t1", "gold")
	require.NoError(t, err)
	require.NotNil(t, plan)
	require.True(t, plan.Includes("facial"))
	require.False(t, plan.Includes("peel"))

	missing, err := svc.FindPlan(ctx, "t2", "gold")
	require.NoError(t, err)
	require.Nil(t, missing)

	tr, err := svc.FindTreatment(ctx, "t1", "peel")
	require.NoError(t, err)
	require.Equal(t, int64(3000), *tr.MemberPriceCents)

	byID, err := svc.FindTreatments(ctx, "t1", []string{"peel", "nope"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
}

func TestFindPlanIsCached(t *testing.T) {
	var loads int32
	svc := &Service{
		plans: &testutil.RepoMock[Plan]{
			FindOneFn: func(ctx context.Context, q *Plan, _ ...option.QueryOption) (*Plan, error) {
				atomic.AddInt32(&loads, 1)
				return &Plan{TenantID: q.TenantID, ID: q.ID}, nil
			},
		},
		planCache: NewCache[*Plan]("plan", time.Minute),
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := svc.FindPlan(context.Background(), "t1", "gold")
			require.NoError(t, err)
			require.Equal(t, "gold", p.ID)
		}()
	}
	wg.Wait()

	_, err := svc.FindPlan(context.Background(), "t1", "gold")
	require.NoError(t, err)
	require.LessOrEqual(t, atomic.LoadInt32(&loads), int32(8))
	require.GreaterOrEqual(t, atomic.LoadInt32(&loads), int32(1))

	before := atomic.LoadInt32(&loads)
	_, err = svc.FindPlan(context.Background(), "t1", "gold")
	require.NoError(t, err)
	require.Equal(t, before, atomic.LoadInt32(&loads))
}

func TestCacheExpiryAndErrors(t *testing.T) {
	clock := testutil.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewCache[*Plan]("plan", time.Minute)
	c.now = clock.Now

	c.Set("k", &Plan{ID: "a"})
	_, ok := c.Get("k")
	require.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = c.Get("k")
	require.False(t, ok)

	boom := errors.New("db down")
	_, err := c.GetOrLoad("k", func() (*Plan, error) { return nil, boom }, found[Plan])
	require.ErrorIs(t, err, boom)

	v, err := c.GetOrLoad("missing", func() (*Plan, error) { return nil, nil }, found[Plan])
	require.NoError(t, err)
	require.Nil(t, v)
	_, ok = c.Get("missing")
	require.False(t, ok)
}
