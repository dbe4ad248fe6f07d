package payops

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/Khalil2008k/guild-payops/config"
	"github.com/Khalil2008k/guild-payops/model"
)

func TestGetEventFromStatus(t *testing.T) {
	assert.Equal(t, EventPaymentCompleted, getEventFromStatus(model.StatusCompleted))
	assert.Equal(t, EventPaymentFailed, getEventFromStatus(model.StatusFailed))
	assert.Equal(t, EventPaymentDisputed, getEventFromStatus(model.StatusDisputed))
	assert.Equal(t, "payment.unknown", getEventFromStatus(model.StatusPending))
}

func TestSendWebhookNoopWithoutURL(t *testing.T) {
	config.MockConfig(&config.Configuration{})

	err := SendWebhook(NewWebhook{Event: EventPaymentCompleted, Payload: map[string]string{"item_id": "mpi_1"}})
	assert.NoError(t, err)
}

func TestProcessWebhookDeliversPayload(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	var received NewWebhook
	httpmock.RegisterResponder("POST", "https://guild.example.com/hooks",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
				return nil, err
			}
			return httpmock.NewJsonResponse(200, map[string]string{"status": "ok"})
		})

	cfg := &config.Configuration{}
	cfg.Notification.Webhook.Url = "https://guild.example.com/hooks"
	config.MockConfig(cfg)

	payload, err := json.Marshal(NewWebhook{Event: EventEscrowReleased, Payload: map[string]string{"timer_id": "rlt_1"}})
	assert.NoError(t, err)

	task := asynq.NewTask("payops_webhooks", payload)
	err = ProcessWebhook(context.Background(), task)
	assert.NoError(t, err)
	assert.Equal(t, EventEscrowReleased, received.Event)
}
