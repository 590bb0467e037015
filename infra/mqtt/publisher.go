// Package mqtt publishes grid telemetry to an MQTT broker: claim lifecycle
// events and power balance readings, as JSON under a configurable topic
// prefix.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/groengemak/solgrid/core/grid"
	"github.com/groengemak/solgrid/infra/logger"
)

// Config defines the connection parameters for the Paho MQTT client. An
// empty broker disables telemetry publishing entirely.
type Config struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         byte   `json:"qos"`
	UseTLS      bool   `json:"use_tls"`
	ClientCert  string `json:"client_cert"`
	ClientKey   string `json:"client_key"`
	CABundle    string `json:"ca_bundle"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "solgrid"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "solgrid"
	}
}

// Enabled reports whether a broker is configured.
func (c Config) Enabled() bool { return c.Broker != "" }

// LoadTLSConfig loads the TLS configuration from the file paths in the
// config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	return &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// pahoClient is the slice of the Paho API the publisher uses.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Publisher sends telemetry to the broker.
type Publisher struct {
	cli    pahoClient
	prefix string
	qos    byte
	log    logger.Logger
}

// New connects to the configured broker.
func New(cfg Config) (*Publisher, error) {
	cfg.SetDefaults()
	log := logger.New("mqtt-publisher")

	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Infof("MQTT connected to %s", cfg.Broker)
	return &Publisher{cli: cli, prefix: cfg.TopicPrefix, qos: cfg.QoS, log: log}, nil
}

func (p *Publisher) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	token := p.cli.Publish(topic, p.qos, false, payload)
	token.Wait()
	return token.Error()
}

// PublishClaimEvent sends one claim lifecycle transition under
// <prefix>/grid/<name>/claims.
func (p *Publisher) PublishClaimEvent(ev grid.ClaimEvent) error {
	topic := fmt.Sprintf("%s/grid/%s/claims", p.prefix, ev.Grid)
	if err := p.publish(topic, ev); err != nil {
		return fmt.Errorf("publish claim event: %w", err)
	}
	return nil
}

// PublishBalance sends one power balance reading under
// <prefix>/grid/<name>/balance.
func (p *Publisher) PublishBalance(ev grid.BalanceEvent) error {
	topic := fmt.Sprintf("%s/grid/%s/balance", p.prefix, ev.Grid)
	if err := p.publish(topic, ev); err != nil {
		return fmt.Errorf("publish balance: %w", err)
	}
	return nil
}

// Disconnect gracefully closes the MQTT connection.
func (p *Publisher) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
