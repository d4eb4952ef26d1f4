package config

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSSM struct {
	batches [][]string
	invalid []string
}

func (m *mockSSM) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	m.batches = append(m.batches, in.Names)
	out := &ssm.GetParametersOutput{InvalidParameters: m.invalid}
	for _, n := range in.Names {
		out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(n), Value: aws.String("v:" + n)})
	}
	return out, nil
}

func TestSSMProvider_Batches(t *testing.T) {
	client := &mockSSM{}
	p := &SSMProvider{region: "us-east-1", client: client}

	keys := make([]string, 23)
	for i := range keys {
		keys[i] = fmt.Sprintf("/p/%d", i)
	}

	got, err := p.GetParametersBatch(context.Background(), keys)
	require.NoError(t, err)
	assert.Len(t, got, 23)
	assert.Equal(t, "v:/p/22", got["/p/22"])
	require.Len(t, client.batches, 3)
	assert.Len(t, client.batches[2], 3)
}

func TestSSMProvider_InvalidParameters(t *testing.T) {
	p := &SSMProvider{client: &mockSSM{invalid: []string{"/p/missing"}}}
	_, err := p.GetParametersBatch(context.Background(), []string{"/p/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/p/missing")
}

func TestSSMProvider_CancelledContext(t *testing.T) {
	p := &SSMProvider{client: &mockSSM{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.GetParametersBatch(ctx, []string{"/p/1"})
	require.Error(t, err)
}
