package external

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"

	"alertflow/internal/types"
)

type mockSNSAPI struct {
	in    *sns.PublishInput
	err   error
	calls int
}

func (m *mockSNSAPI) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls++
	m.in = params
	if m.err != nil {
		return nil, m.err
	}
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

func TestSNSSendSMS(t *testing.T) {
	api := &mockSNSAPI{}
	id, err := NewSNSClient(api, "ALERTFLOW", nil).SendSMS(context.Background(), "+4915112345678", "fire at dock B")
	if err != nil || id != "sns-1" {
		t.Fatalf("SendSMS = %q, %v", id, err)
	}
	if aws.ToString(api.in.PhoneNumber) != "+4915112345678" {
		t.Errorf("phone = %q", aws.ToString(api.in.PhoneNumber))
	}
	if aws.ToString(api.in.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue) != "ALERTFLOW" {
		t.Error("sender id not set")
	}
	if aws.ToString(api.in.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue) != "Transactional" {
		t.Error("sms type not set")
	}
}

func TestSNSSendSMS_RejectsNonE164(t *testing.T) {
	api := &mockSNSAPI{}
	_, err := NewSNSClient(api, "", nil).SendSMS(context.Background(), "015112345678", "x")
	if err == nil || types.IsTransient(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if api.calls != 0 {
		t.Error("invalid number must not reach SNS")
	}
}

func TestSNSSendSMS_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"opted out", &smithy.GenericAPIError{Code: "OptedOut", Fault: smithy.FaultClient}, false},
		{"invalid parameter", &smithy.GenericAPIError{Code: "InvalidParameter", Fault: smithy.FaultClient}, false},
		{"throttled", &smithy.GenericAPIError{Code: "Throttled", Fault: smithy.FaultClient}, true},
		{"internal", &smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer}, true},
		{"network", errors.New("dial tcp: i/o timeout"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSNSClient(&mockSNSAPI{err: tt.err}, "", nil).SendSMS(context.Background(), "+14155550100", "x")
			if err == nil {
				t.Fatal("expected error")
			}
			if types.IsTransient(err) != tt.transient {
				t.Errorf("transient = %v, want %v (%v)", types.IsTransient(err), tt.transient, err)
			}
		})
	}
}
