package delivery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"clinic-engagement/pkg/db/pagination"
	"clinic-engagement/pkg/notifier"
	"clinic-engagement/pkg/policy"
	"clinic-engagement/services/audience"
	"clinic-engagement/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeSender struct {
	fn func(ctx context.Context, msg notifier.Message) (notifier.Result, error)
}

func (f *fakeSender) Send(ctx context.Context, msg notifier.Message) (notifier.Result, error) {
	return f.fn(ctx, msg)
}

type fakeFlags struct {
	disabled map[string]bool
}

func (f *fakeFlags) ChannelEnabled(_ context.Context, _ string, channel string) bool {
	return !f.disabled[channel]
}

func newDispatcher(t *testing.T, senders map[string]notifier.Sender, flags *fakeFlags) *Dispatcher {
	t.Helper()
	db := testutil.NewTestDB(t, &Delivery{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	pol := policy.Default()
	pol.DispatchWorkers = 3
	pol.SenderTimeout = 50 * time.Millisecond

	if flags == nil {
		flags = &fakeFlags{}
	}
	d := NewDispatcher(DispatcherParams{
		DB:       db,
		Node:     node,
		Registry: notifier.NewStaticRegistry(senders),
		Flags:    flags,
		Policy:   pol,
	})
	clock := testutil.NewClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	d.now = clock.Now
	return d
}

func requireConsistent(t *testing.T, d *Dispatcher, runID string, sum Summary) {
	t.Helper()
	require.Equal(t, sum.Attempted, sum.Sent+sum.Failed+sum.Skipped)

	var rows []*Delivery
	require.NoError(t, d.db.Where("run_id = ?", runID).Find(&rows).Error)
	require.Len(t, rows, sum.Attempted)

	counts := map[Status]int{}
	for _, r := range rows {
		require.Contains(t, []Status{StatusSent, StatusFailed, StatusSkipped}, r.Status)
		counts[r.Status]++
	}
	require.Equal(t, sum.Sent, counts[StatusSent])
	require.Equal(t, sum.Failed, counts[StatusFailed])
	require.Equal(t, sum.Skipped, counts[StatusSkipped])
}

func TestRender(t *testing.T) {
	p := audience.Profile{Name: "Ana", Email: "ana@x.com", MembershipStatus: "active"}
	require.Equal(t, "Hi Ana (ana@x.com), your active plan at Glow", Render("Hi {{name}} ({{email}}), your {{membership_status}} plan at {{clinic}}", p, "Glow"))
	require.Equal(t, "Hi Patient, inactive at your clinic", Render("Hi {{name}}, {{membership_status}} at {{clinic}}", audience.Profile{}, ""))
	require.Equal(t, "Update from your clinic", Render(DefaultTitle, p, " "))
}

func TestDispatchInApp(t *testing.T) {
	d := newDispatcher(t, nil, nil)
	recipients := []audience.Profile{{Key: "a@x.com"}, {Key: "id:s1"}, {Key: "a@x.com"}, {Key: ""}}

	sum, err := d.Dispatch(context.Background(), Job{TenantID: "t1", CampaignID: "c1", RunID: "r1", Channel: ChannelInApp, ClinicName: "Glow"}, recipients)
	require.NoError(t, err)
	require.Equal(t, Summary{Attempted: 2, Sent: 2}, sum)
	requireConsistent(t, d, "r1", sum)

	var row Delivery
	require.NoError(t, d.db.Where("recipient_key = ?", "a@x.com").Take(&row).Error)
	require.JSONEq(t, `{"title":"Update from Glow","body":"We have a new offer for you.","name":"","membership_status":"","trigger_type":""}`, string(row.Metadata))
}

func TestDispatchEmailOutcomes(t *testing.T) {
	email := &fakeSender{fn: func(ctx context.Context, msg notifier.Message) (notifier.Result, error) {
		switch msg.To {
		case "ok@x.com":
			return notifier.Result{Status: notifier.StatusSent, ProviderMessageID: "msg-1"}, nil
		case "rejected@x.com":
			return notifier.Result{Status: notifier.StatusFailed, Error: "mailbox unavailable"}, nil
		case "odd@x.com":
			return notifier.Result{Status: "queued"}, nil
		case "slow@x.com":
			<-ctx.Done()
			return notifier.Result{}, ctx.Err()
		default:
			return notifier.Result{}, errors.New("connection reset")
		}
	}}
	d := newDispatcher(t, map[string]notifier.Sender{notifier.ChannelEmail: email}, nil)

	recipients := []audience.Profile{
		{Key: "ok@x.com", Email: "ok@x.com"},
		{Key: "rejected@x.com", Email: "rejected@x.com"},
		{Key: "odd@x.com", Email: "odd@x.com"},
		{Key: "slow@x.com", Email: "slow@x.com"},
		{Key: "broken@x.com", Email: "broken@x.com"},
		{Key: "id:s1"},
	}
	sum, err := d.Dispatch(context.Background(), Job{TenantID: "t1", CampaignID: "c1", RunID: "r1", Channel: ChannelEmail}, recipients)
	require.NoError(t, err)
	require.Equal(t, Summary{Attempted: 6, Sent: 1, Failed: 3, Skipped: 2}, sum)
	requireConsistent(t, d, "r1", sum)

	var ok, slow, missing Delivery
	require.NoError(t, d.db.Where("recipient_key = ?", "ok@x.com").Take(&ok).Error)
	require.Equal(t, "msg-1", ok.ProviderMessageID)
	require.NoError(t, d.db.Where("recipient_key = ?", "slow@x.com").Take(&slow).Error)
	require.Equal(t, "provider timeout", slow.Error)
	require.NoError(t, d.db.Where("recipient_key = ?", "id:s1").Take(&missing).Error)
	require.Equal(t, StatusSkipped, missing.Status)
	require.Equal(t, "missing email address", missing.Error)
}

func TestDispatchSkipsUnconfiguredAndDisabledChannels(t *testing.T) {
	d := newDispatcher(t, nil, &fakeFlags{disabled: map[string]bool{"push": true}})
	ctx := context.Background()
	recipients := []audience.Profile{{Key: "a", ExternalUserID: "a", Phone: "+34600000000"}}

	sum, err := d.Dispatch(ctx, Job{TenantID: "t1", CampaignID: "c1", RunID: "r-sms", Channel: ChannelSMS}, recipients)
	require.NoError(t, err)
	require.Equal(t, Summary{Attempted: 1, Skipped: 1}, sum)

	sum, err = d.Dispatch(ctx, Job{TenantID: "t1", CampaignID: "c1", RunID: "r-push", Channel: ChannelPush}, recipients)
	require.NoError(t, err)
	require.Equal(t, Summary{Attempted: 1, Skipped: 1}, sum)

	var row Delivery
	require.NoError(t, d.db.Where("run_id = ?", "r-push").Take(&row).Error)
	require.Equal(t, "channel disabled", row.Error)
}

func TestDispatchReturnsStorageErrorAfterProcessing(t *testing.T) {
	d := newDispatcher(t, nil, nil)
	ctx := context.Background()
	job := Job{TenantID: "t1", CampaignID: "c1", RunID: "r1", Channel: ChannelInApp}

	_, err := d.Dispatch(ctx, job, []audience.Profile{{Key: "a"}})
	require.NoError(t, err)

	// Same run and recipient violates the write-once index.
	sum, err := d.Dispatch(ctx, job, []audience.Profile{{Key: "a"}, {Key: "b"}})
	require.Error(t, err)
	require.Equal(t, 2, sum.Attempted)

	var count int64
	require.NoError(t, d.db.Model(&Delivery{}).Where("run_id = ?", "r1").Count(&count).Error)
	require.Equal(t, int64(2), count)
}

func TestListDeliveriesPaginates(t *testing.T) {
	d := newDispatcher(t, nil, nil)
	ctx := context.Background()

	recipients := make([]audience.Profile, 0, 5)
	for i := 0; i < 5; i++ {
		recipients = append(recipients, audience.Profile{Key: fmt.Sprintf("p%d", i)})
	}
	_, err := d.Dispatch(ctx, Job{TenantID: "t1", CampaignID: "c1", RunID: "r1", Channel: ChannelInApp}, recipients)
	require.NoError(t, err)

	seen := map[string]bool{}
	page := pagination.Pagination{Limit: 2}
	for i := 0; i < 3; i++ {
		rows, info, err := d.ListDeliveries(ctx, "t1", "c1", page)
		require.NoError(t, err)
		for _, r := range rows {
			require.False(t, seen[r.ID])
			seen[r.ID] = true
		}
		if i < 2 {
			require.Len(t, rows, 2)
			require.True(t, info.HasMore)
		} else {
			require.Len(t, rows, 1)
			require.False(t, info.HasMore)
		}
		page.Cursor = info.NextCursor
	}
	require.Len(t, seen, 5)

	rows, _, err := d.ListDeliveries(ctx, "t2", "c1", pagination.Pagination{})
	require.NoError(t, err)
	require.Empty(t, rows)

	_, _, err = d.ListDeliveries(ctx, "t1", "c1", pagination.Pagination{Cursor: "!!"})
	require.Error(t, err)
}
