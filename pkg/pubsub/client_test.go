package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/digistore-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		name    string
		project string
		topic   string
		want    string
	}{
		{"bare id", "digistore", "order-notifications", "projects/digistore/topics/order-notifications"},
		{"full resource", "other", "projects/digistore/topics/orders", "projects/digistore/topics/orders"},
		{"trims", "digistore", "  orders  ", "projects/digistore/topics/orders"},
		{"empty topic", "digistore", " ", ""},
		{"no project", "", "orders", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, topicResourceName(tc.project, tc.topic))
		})
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, []string{"orders"}, nil)
	require.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "digistore"}, []string{" ", ""}, nil)
	require.ErrorIs(t, err, errTopicRequired)
}

func TestClientOptionsPreferInlineCredentials(t *testing.T) {
	assert.Empty(t, clientOptions(config.GCPConfig{ProjectID: "digistore"}))
	assert.Len(t, clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/etc/sa.json"}), 1)
	assert.Len(t, clientOptions(config.GCPConfig{ApplicationCredentials: "/etc/sa.json"}), 1)
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("orders"))
	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.Ping(context.Background()), errNotInitialized)
}
