package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-engagement-orderflow/internal/scheduler"
)

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestRecordSweep(t *testing.T) {
	cw := &fakeCloudWatch{}
	r := NewCloudWatchRecorder(cw, "EngagementOrders")

	err := r.RecordSweep(context.Background(), scheduler.SweepReport{
		StartedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
		Scanned:   10,
		Selected:  3,
		Succeeded: 2,
		Failed:    1,
		Actions:   map[string]int{"expire": 1, "refresh_supplier": 2},
	})
	require.NoError(t, err)
	require.Len(t, cw.inputs, 1)

	in := cw.inputs[0]
	assert.Equal(t, "EngagementOrders", *in.Namespace)
	require.Len(t, in.MetricData, 7)

	values := map[string]float64{}
	for _, d := range in.MetricData {
		name := *d.MetricName
		if len(d.Dimensions) == 1 {
			name += "/" + *d.Dimensions[0].Value
		}
		values[name] = *d.Value
	}
	assert.Equal(t, 10.0, values["SweepScanned"])
	assert.Equal(t, 1.0, values["SweepFailed"])
	assert.Equal(t, 1500.0, values["SweepDuration"])
	assert.Equal(t, 2.0, values["SweepActions/refresh_supplier"])
}

func TestRecordSweep_Error(t *testing.T) {
	boom := errors.New("throttled")
	r := NewCloudWatchRecorder(&fakeCloudWatch{err: boom}, "ns")
	assert.ErrorIs(t, r.RecordSweep(context.Background(), scheduler.SweepReport{}), boom)
}
