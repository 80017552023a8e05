package core

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"conjure/internal/types"
)

// mockCloudWatchClient records PutMetricData calls.
type mockCloudWatchClient struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestCloudWatchMetricsUsesConfiguredNamespace(t *testing.T) {
	client := &mockCloudWatchClient{}
	metrics := NewCloudWatchNotificationMetrics(client, "ConjureStaging", types.NopLogger{})

	metrics.RecordDelivery(context.Background(), types.ChannelTelegram, MetricSuccess)

	if len(client.inputs) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(client.inputs))
	}
	if got := *client.inputs[0].Namespace; got != "ConjureStaging" {
		t.Errorf("namespace = %q, want %q", got, "ConjureStaging")
	}
}

func TestCloudWatchMetricsEmptyNamespaceFallsBack(t *testing.T) {
	client := &mockCloudWatchClient{}
	metrics := NewCloudWatchNotificationMetrics(client, "", types.NopLogger{})

	metrics.RecordDelivery(context.Background(), types.ChannelWebhook, MetricFailed)

	if len(client.inputs) != 1 {
		t.Fatalf("expected 1 PutMetricData call, got %d", len(client.inputs))
	}
	if got := *client.inputs[0].Namespace; got != types.MetricNamespace {
		t.Errorf("namespace = %q, want %q", got, types.MetricNamespace)
	}
}

func TestCloudWatchMetricsDeliveryDimensions(t *testing.T) {
	client := &mockCloudWatchClient{}
	metrics := NewCloudWatchNotificationMetrics(client, "", types.NopLogger{})

	metrics.RecordDelivery(context.Background(), types.ChannelDiscord, MetricSuccess)

	data := client.inputs[0].MetricData
	if len(data) != 1 {
		t.Fatalf("expected 1 metric datum, got %d", len(data))
	}
	if *data[0].MetricName != types.MetricDeliveryAttempt {
		t.Errorf("metric name = %q, want %q", *data[0].MetricName, types.MetricDeliveryAttempt)
	}
	dims := map[string]string{}
	for _, d := range data[0].Dimensions {
		dims[*d.Name] = *d.Value
	}
	if dims[types.DimChannel] != string(types.ChannelDiscord) {
		t.Errorf("channel dimension = %q, want %q", dims[types.DimChannel], types.ChannelDiscord)
	}
	if dims[types.DimResult] != string(MetricSuccess) {
		t.Errorf("result dimension = %q, want %q", dims[types.DimResult], MetricSuccess)
	}
}
