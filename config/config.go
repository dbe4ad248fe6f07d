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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"PAYOPS_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"PAYOPS_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"PAYOPS_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"PAYOPS_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"PAYOPS_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"PAYOPS_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"PAYOPS_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"PAYOPS_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"PAYOPS_REDIS_SKIP_TLS_VERIFY"`
}

// QueueConfig drives the asynq task queues and the periodic workers.
type QueueConfig struct {
	WebhookQueue     string `json:"webhook_queue" envconfig:"PAYOPS_QUEUE_WEBHOOK"`
	TimerQueue       string `json:"timer_queue" envconfig:"PAYOPS_QUEUE_TIMER"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"PAYOPS_QUEUE_MONITORING_PORT"`
	SweepIntervalSec int    `json:"sweep_interval_sec" envconfig:"PAYOPS_QUEUE_SWEEP_INTERVAL_SEC"`
}

// ReconciliationConfig drives the balance reconciliation engine. Tolerance
// and the high priority threshold are in major currency units.
type ReconciliationConfig struct {
	IntervalSec           int     `json:"interval_sec" envconfig:"PAYOPS_RECONCILIATION_INTERVAL_SEC"`
	Tolerance             float64 `json:"tolerance" envconfig:"PAYOPS_RECONCILIATION_TOLERANCE"`
	HighPriorityThreshold float64 `json:"high_priority_threshold" envconfig:"PAYOPS_RECONCILIATION_HIGH_PRIORITY_THRESHOLD"`
	DefaultCurrency       string  `json:"default_currency" envconfig:"PAYOPS_RECONCILIATION_DEFAULT_CURRENCY"`
	LookbackHours         int     `json:"lookback_hours" envconfig:"PAYOPS_RECONCILIATION_LOOKBACK_HOURS"`
	PSPBaseURL            string  `json:"psp_base_url" envconfig:"PAYOPS_PSP_BASE_URL"`
	PSPAPIKey             string  `json:"psp_api_key" envconfig:"PAYOPS_PSP_API_KEY"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PAYOPS_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PAYOPS_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PAYOPS_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string               `json:"project_name" envconfig:"PAYOPS_PROJECT_NAME"`
	EnableTelemetry bool                 `json:"enable_telemetry" envconfig:"PAYOPS_ENABLE_TELEMETRY"`
	Server          ServerConfig         `json:"server"`
	DataSource      DataSourceConfig     `json:"data_source"`
	Redis           RedisConfig          `json:"redis"`
	Queue           QueueConfig          `json:"queue"`
	Reconciliation  ReconciliationConfig `json:"reconciliation"`
	Notification    Notification         `json:"notification"`
	RateLimit       RateLimitConfig      `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("payops", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called payops.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Guild PayOps"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "payops_webhooks"
	}
	if cnf.Queue.TimerQueue == "" {
		cnf.Queue.TimerQueue = "payops_timers"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5002"
	}
	if cnf.Queue.SweepIntervalSec <= 0 {
		cnf.Queue.SweepIntervalSec = 60
	}

	if cnf.Reconciliation.IntervalSec <= 0 {
		cnf.Reconciliation.IntervalSec = 3600
	}
	if cnf.Reconciliation.Tolerance < 0 {
		return errors.New("reconciliation tolerance cannot be negative")
	}
	if cnf.Reconciliation.HighPriorityThreshold <= 0 {
		cnf.Reconciliation.HighPriorityThreshold = 1000
	}
	if cnf.Reconciliation.DefaultCurrency == "" {
		cnf.Reconciliation.DefaultCurrency = "USD"
	}
	if cnf.Reconciliation.LookbackHours <= 0 {
		cnf.Reconciliation.LookbackHours = 24
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.Queue.WebhookQueue == "" {
		mockConfig.Queue.WebhookQueue = "payops_webhooks"
	}
	if mockConfig.Queue.TimerQueue == "" {
		mockConfig.Queue.TimerQueue = "payops_timers"
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
