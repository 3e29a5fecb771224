package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"clinic-engagement/pkg/db/pagination"
	"clinic-engagement/pkg/errutil"
	"clinic-engagement/pkg/featureflags"
	"clinic-engagement/pkg/notifier"
	"clinic-engagement/pkg/policy"
	"clinic-engagement/pkg/repository"
	"clinic-engagement/pkg/util"
	"clinic-engagement/services/audience"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "engagement_deliveries_total",
	Help: "Campaign deliveries by channel and outcome.",
}, []string{"channel", "status"})

type SenderSource interface {
	Sender(channel string) (notifier.Sender, bool)
}

type Dispatcher struct {
	db         *gorm.DB
	node       *snowflake.Node
	deliveries repository.Repository[Delivery]
	senders    SenderSource
	flags      featureflags.FeatureFlag
	policy     policy.Policy
	now        func() time.Time
}

type DispatcherParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Registry *notifier.Registry
	Flags    featureflags.FeatureFlag
	Policy   policy.Policy
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		db:         p.DB,
		node:       p.Node,
		deliveries: repository.ProvideStore[Delivery](p.DB),
		senders:    p.Registry,
		flags:      p.Flags,
		policy:     p.Policy,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type outcome struct {
	status            Status
	providerMessageID string
	err               string
}

// Dispatch delivers job to every distinct recipient and writes one Delivery
// row each. Storage errors are returned once all recipients are processed.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job, recipients []audience.Profile) (Summary, error) {
	title := job.TemplateTitle
	if title == "" {
		title = DefaultTitle
	}
	body := job.TemplateBody
	if body == "" {
		body = DefaultBody
	}

	channelEnabled := true
	if d.flags != nil {
		channelEnabled = d.flags.ChannelEnabled(ctx, job.TenantID, string(job.Channel))
	}

	var (
		attempted, sent, failed, skipped atomic.Int64
		mu                               sync.Mutex
		storeErrs                        []error
	)

	workers := d.policy.DispatchWorkers
	if workers <= 0 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)

	seen := make(map[string]struct{}, len(recipients))
	for _, p := range recipients {
		if p.Key == "" {
			continue
		}
		if _, dup := seen[p.Key]; dup {
			continue
		}
		seen[p.Key] = struct{}{}

		g.Go(func() error {
			addr := address(job.Channel, p)
			msg := notifier.Message{To: addr, Title: Render(title, p, job.ClinicName), Body: Render(body, p, job.ClinicName)}

			var out outcome
			if !channelEnabled {
				out = outcome{status: StatusSkipped, err: "channel disabled"}
			} else {
				out = d.deliver(ctx, job.Channel, msg)
			}

			attempted.Add(1)
			switch out.status {
			case StatusSent:
				sent.Add(1)
			case StatusFailed:
				failed.Add(1)
			default:
				skipped.Add(1)
			}
			deliveriesTotal.WithLabelValues(string(job.Channel), string(out.status)).Inc()

			if err := d.store(ctx, job, p, msg, out); err != nil {
				zap.L().Error("failed to store delivery",
					zap.String("tenant_id", job.TenantID),
					zap.String("campaign_id", job.CampaignID),
					zap.String("run_id", job.RunID),
					zap.Error(err))
				mu.Lock()
				storeErrs = append(storeErrs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{
		Attempted: int(attempted.Load()),
		Sent:      int(sent.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
	}
	zap.L().Info("campaign dispatched",
		zap.String("tenant_id", job.TenantID),
		zap.String("campaign_id", job.CampaignID),
		zap.String("run_id", job.RunID),
		zap.String("channel", string(job.Channel)),
		zap.Int("attempted", sum.Attempted),
		zap.Int("sent", sum.Sent),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped))

	return sum, errors.Join(storeErrs...)
}

func (d *Dispatcher) deliver(ctx context.Context, ch Channel, msg notifier.Message) outcome {
	if ch == ChannelInApp {
		return outcome{status: StatusSent}
	}
	if msg.To == "" {
		return outcome{status: StatusSkipped, err: "missing " + string(ch) + " address"}
	}

	var sender notifier.Sender
	if d.senders != nil {
		sender, _ = d.senders.Sender(string(ch))
	}
	if sender == nil {
		return outcome{status: StatusSkipped, err: string(ch) + " channel not configured"}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.policy.SenderTimeout)
	defer cancel()

	res, err := sender.Send(sendCtx, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			return outcome{status: StatusFailed, err: "provider timeout"}
		}
		return outcome{status: StatusFailed, err: err.Error()}
	}
	return outcome{
		status:            NormalizeStatus(res.Status),
		providerMessageID: res.ProviderMessageID,
		err:               res.Error,
	}
}

func (d *Dispatcher) store(ctx context.Context, job Job, p audience.Profile, msg notifier.Message, out outcome) error {
	meta, err := json.Marshal(map[string]any{
		"title":             msg.Title,
		"body":              msg.Body,
		"name":              p.Name,
		"membership_status": p.MembershipStatus,
		"trigger_type":      job.TriggerType,
	})
	if err != nil {
		meta = []byte("{}")
	}

	errText := util.Truncate(out.err, maxErrorLen)

	return d.deliveries.Create(ctx, &Delivery{
		ID:                d.node.Generate().String(),
		TenantID:          job.TenantID,
		CampaignID:        job.CampaignID,
		RunID:             job.RunID,
		RecipientKey:      p.Key,
		Address:           msg.To,
		Channel:           job.Channel,
		Status:            out.status,
		ProviderMessageID: out.providerMessageID,
		Error:             errText,
		Metadata:          datatypes.JSON(meta),
		CreatedAt:         d.now(),
	})
}

// ListDeliveries pages through a campaign's deliveries newest first.
func (d *Dispatcher) ListDeliveries(ctx context.Context, tenantID, campaignID string, p pagination.Pagination) ([]*Delivery, *pagination.PageInfo, error) {
	q := d.db.WithContext(ctx).Model(&Delivery{}).Where("tenant_id = ? AND campaign_id = ?", tenantID, campaignID)
	q, err := pagination.Apply(q, p)
	if err != nil {
		return nil, nil, errutil.BadRequest("invalid cursor", err)
	}

	var rows []*Delivery
	if err := q.Find(&rows).Error; err != nil {
		zap.L().Error("failed to list deliveries", zap.String("tenant_id", tenantID), zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, nil, err
	}

	rows, info := pagination.BuildCursorPageInfo(rows, p.Size(), func(row *Delivery) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return rows, info, nil
}
