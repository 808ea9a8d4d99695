package metrics

import (
	"context"
	"fmt"
	"sort"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-engagement-orderflow/internal/aws"
	"github.com/imrishuroy/go-engagement-orderflow/internal/scheduler"
)

// CloudWatchRecorder publishes sweep reports as CloudWatch metrics.
type CloudWatchRecorder struct {
	client    aws.CloudWatchAPI
	namespace string
}

func NewCloudWatchRecorder(client aws.CloudWatchAPI, namespace string) *CloudWatchRecorder {
	return &CloudWatchRecorder{client: client, namespace: namespace}
}

// RecordSweep sends one PutMetricData call per sweep. Per-action counts carry an Action dimension.
func (r *CloudWatchRecorder) RecordSweep(ctx context.Context, rep scheduler.SweepReport) error {
	ts := sdkaws.Time(rep.StartedAt)
	count := func(name string, v int, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: sdkaws.String(name),
			Timestamp:  ts,
			Unit:       cwtypes.StandardUnitCount,
			Value:      sdkaws.Float64(float64(v)),
			Dimensions: dims,
		}
	}

	data := []cwtypes.MetricDatum{
		count("SweepScanned", rep.Scanned),
		count("SweepSelected", rep.Selected),
		count("SweepSucceeded", rep.Succeeded),
		count("SweepFailed", rep.Failed),
		{
			MetricName: sdkaws.String("SweepDuration"),
			Timestamp:  ts,
			Unit:       cwtypes.StandardUnitMilliseconds,
			Value:      sdkaws.Float64(float64(rep.Duration.Milliseconds())),
		},
	}

	actions := make([]string, 0, len(rep.Actions))
	for a := range rep.Actions {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	for _, a := range actions {
		data = append(data, count("SweepActions", rep.Actions[a],
			cwtypes.Dimension{Name: sdkaws.String("Action"), Value: sdkaws.String(a)}))
	}

	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(r.namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}

// Nop discards sweep reports.
type Nop struct{}

func (Nop) RecordSweep(context.Context, scheduler.SweepReport) error { return nil }
