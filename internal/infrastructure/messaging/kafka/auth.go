package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// SecurityConfig carries the optional SASL and TLS settings shared by the
// producer, the consumer and the topic manager.
type SecurityConfig struct {
	SASLMechanism string
	SASLUsername  string
	SASLPassword  string
	TLSEnabled    bool
	TLSCAPath     string
}

func (s SecurityConfig) validate() error {
	switch s.SASLMechanism {
	case "":
		return nil
	case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
	default:
		return errors.New(errors.ErrCodeValidation, "unsupported SASL mechanism").WithDetail(s.SASLMechanism)
	}
	if s.SASLUsername == "" || s.SASLPassword == "" {
		return errors.New(errors.ErrCodeValidation, "SASL credentials required")
	}
	return nil
}

func (s SecurityConfig) mechanism() (sasl.Mechanism, error) {
	var (
		mech sasl.Mechanism
		err  error
	)
	switch s.SASLMechanism {
	case "":
		return nil, nil
	case "PLAIN":
		mech = plain.Mechanism{Username: s.SASLUsername, Password: s.SASLPassword}
	case "SCRAM-SHA-256":
		mech, err = scram.Mechanism(scram.SHA256, s.SASLUsername, s.SASLPassword)
	case "SCRAM-SHA-512":
		mech, err = scram.Mechanism(scram.SHA512, s.SASLUsername, s.SASLPassword)
	default:
		return nil, errors.New(errors.ErrCodeValidation, "unsupported SASL mechanism").WithDetail(s.SASLMechanism)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create SASL mechanism")
	}
	return mech, nil
}

// tlsConfig returns nil when TLS is off. Without a CA file the system pool
// is used.
func (s SecurityConfig) tlsConfig() (*tls.Config, error) {
	if !s.TLSEnabled {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if s.TLSCAPath == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(s.TLSCAPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "failed to read kafka CA file")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New(errors.ErrCodeValidation, "kafka CA file holds no certificates")
	}
	cfg.RootCAs = pool
	return cfg, nil
}
