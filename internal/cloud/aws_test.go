package cloud

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/energy-credits/energy-credits-backend/internal/config"
)

func TestLoadAWSConfig_StaticCredentials(t *testing.T) {
	awsCfg, err := LoadAWSConfig(context.Background(), config.AWSConfig{
		Region:          "eu-west-1",
		AccessKeyID:     "local",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", awsCfg.Region)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "local", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)

	assert.NotNil(t, NewSNSClient(awsCfg, "http://localhost:4566"))
}
