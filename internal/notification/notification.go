/*
Copyright 2025 Guild PayOps Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notification

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Khalil2008k/guild-payops/internal/request"
	"github.com/sirupsen/logrus"

	"github.com/Khalil2008k/guild-payops/config"
)

// WebhookSender delivers an event through the outbound webhook pipeline.
// The root package registers its asynq-backed sender at startup; keeping the
// indirection here avoids an import cycle between notification and webhooks.
type WebhookSender func(event string, payload interface{}) error

var webhookSender WebhookSender

// RegisterWebhookSender installs the sender used for system.error events.
// Registering a new sender replaces the previous one.
func RegisterWebhookSender(sender WebhookSender) {
	webhookSender = sender
}

// SlackNotification posts an error report to the configured Slack webhook.
// Reconciliation uses this to page operators when a run surfaces phantom
// transactions or an out-of-tolerance discrepancy.
func SlackNotification(err error) {
	data := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Error From PayOps 🚨",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Error:*\n%v"
					}
				]
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Time:*\n%v"
					}
				]
			}
		]
	}`, err.Error(), time.Now().Format(time.RFC822)))

	conf, err := config.Fetch()
	if err != nil {
		log.Println(err)
		return
	}

	payload, err := request.ToJsonReq(&data)
	if err != nil {
		log.Println(err)
		return
	}

	req, err := http.NewRequest("POST", conf.Notification.Slack.WebhookUrl, payload)
	if err != nil {
		log.Println(err)
		return
	}

	var response map[string]interface{}
	_, err = request.Call(req, &response)
	if err != nil {
		log.Println(err)
	}
}

// NotifyError logs the error and, when a Slack webhook is configured, ships
// it there too. The Slack delivery happens in a goroutine so callers never
// block on the network.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			log.Println(err)
			return
		}

		if conf.Notification.Slack.WebhookUrl != "" {
			SlackNotification(systemError)
		}

		if webhookSender != nil {
			if err := webhookSender("system.error", map[string]string{"error": systemError.Error()}); err != nil {
				log.Println(err)
			}
		}
	}(systemError)
}
