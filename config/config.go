/*
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
	DEFAULT_PORT = "5080"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Port      string `json:"port" envconfig:"COURIER_SERVER_PORT"`
	Secure    bool   `json:"secure" envconfig:"COURIER_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"COURIER_SERVER_SECRET_KEY"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"COURIER_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"COURIER_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"COURIER_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	SendQueue        string `json:"send_queue" envconfig:"COURIER_QUEUE_SEND"`
	EnqueueQueue     string `json:"enqueue_queue" envconfig:"COURIER_QUEUE_ENQUEUE"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"COURIER_QUEUE_MAX_RETRY_ATTEMPTS"`
}

type WorkerConfig struct {
	TransactionalBatchSize int `json:"transactional_batch_size" envconfig:"COURIER_WORKER_TRANSACTIONAL_BATCH_SIZE"`
	ListBatchSize          int `json:"list_batch_size" envconfig:"COURIER_WORKER_LIST_BATCH_SIZE"`
	MaxTimeSeconds         int `json:"max_time_seconds" envconfig:"COURIER_WORKER_MAX_TIME_SECONDS"`
}

// EmailConfig carries link generation and token signing settings. The secret
// signs tracking and unsubscribe tokens; rotating it invalidates issued links.
type EmailConfig struct {
	URLScheme      string `json:"url_scheme" envconfig:"COURIER_EMAIL_URL_SCHEME"`
	URLDomain      string `json:"url_domain" envconfig:"COURIER_EMAIL_URL_DOMAIN"`
	Secret         string `json:"secret" envconfig:"COURIER_EMAIL_SECRET"`
	DefaultFrom    string `json:"default_from" envconfig:"COURIER_EMAIL_DEFAULT_FROM"`
	DefaultReplyTo string `json:"default_reply_to" envconfig:"COURIER_EMAIL_DEFAULT_REPLY_TO"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"COURIER_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type SESConfig struct {
	Region           string `json:"region" envconfig:"COURIER_SES_REGION"`
	ConfigurationSet string `json:"configuration_set" envconfig:"COURIER_SES_CONFIGURATION_SET"`
	Endpoint         string `json:"endpoint" envconfig:"COURIER_SES_ENDPOINT"`
}

// RecipeConfig is one named job template. Recipes are loaded once at startup
// into the registry; they are configuration, never persisted.
type RecipeConfig struct {
	Name                string            `json:"name"`
	Kind                string            `json:"kind"`
	FlowKey             string            `json:"flow_key"`
	StableKeys          []string          `json:"stable_keys"`
	DedupeTemplate      string            `json:"dedupe_template"`
	DedupeParams        []string          `json:"dedupe_params"`
	DefaultDelaySeconds int               `json:"default_delay_seconds"`
	DefaultPriority     int               `json:"default_priority"`
	TemplateKey         string            `json:"template_key"`
	TemplateVersion     string            `json:"template_version"`
	Subject             string            `json:"subject"`
	Headers             map[string]string `json:"headers"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"COURIER_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Queue        QueueConfig      `json:"queue"`
	Worker       WorkerConfig     `json:"worker"`
	Email        EmailConfig      `json:"email"`
	SES          SESConfig        `json:"ses"`
	Notification Notification     `json:"notification"`
	Recipes      []RecipeConfig   `json:"recipes"`
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
	err = envconfig.Process("courier", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called courier.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Courier Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Email.Secret == "" {
		log.Println("Error: Email secret is empty. It's a required field.")
		return errors.New("email secret is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Email.Secret = strings.TrimSpace(cnf.Email.Secret)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Email.URLScheme == "" {
		cnf.Email.URLScheme = "https"
	}

	if cnf.Queue.SendQueue == "" {
		cnf.Queue.SendQueue = "new:send_email"
	}
	if cnf.Queue.EnqueueQueue == "" {
		cnf.Queue.EnqueueQueue = "new:enqueue_email"
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}

	if cnf.Worker.TransactionalBatchSize <= 0 {
		cnf.Worker.TransactionalBatchSize = 200
	}
	if cnf.Worker.ListBatchSize <= 0 {
		cnf.Worker.ListBatchSize = 1
	}
	if cnf.Worker.MaxTimeSeconds == 0 {
		cnf.Worker.MaxTimeSeconds = 60
	}

	if cnf.SES.Region == "" {
		cnf.SES.Region = "eu-west-1"
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
