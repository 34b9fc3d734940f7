package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// DriftAlertMessage is published when a validation run finds drift or an
// invalid Critical rule. Downstream: on-call notification, finalization gate.
type DriftAlertMessage struct {
	ProfitYear          int       `json:"profit_year"`
	EvaluatedAtUtc      time.Time `json:"evaluated_at_utc"`
	FailedValidations   int       `json:"failed_validations"`
	TotalValidations    int       `json:"total_validations"`
	BlocksFinalization  bool      `json:"blocks_finalization"`
	FailedCriticalRules []string  `json:"failed_critical_rules"`
	CorrelationId       string    `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	// Load env from .env
	godotenv.Load()
}

func getPubSubProjectID() string {
	// Prefer explicit override.
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	// Cloud Run/Cloud Functions often set this.
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	// Common fallback.
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

// GetPubSubClient returns a Pub/Sub client, initializing it on first use.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON")

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		// Uses Application Default Credentials (Cloud Run service account or
		// GOOGLE_APPLICATION_CREDENTIALS).
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}
	pubsubClient = c
	log.Printf("pubsub client ready (project_id=%s)", projectID)
	return pubsubClient, nil
}

func driftAlertTopicID() string {
	if v := os.Getenv("DRIFT_ALERT_TOPIC"); v != "" {
		return v
	}
	return "profitshare-drift-alerts"
}

// PublishDriftAlert publishes a drift alert and waits for the server ack.
// Publication is best-effort from the caller's point of view: the validation
// result is already produced before this is invoked.
func PublishDriftAlert(ctx context.Context, msg DriftAlertMessage) error {
	c, err := GetPubSubClient(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	topic := c.Topic(driftAlertTopicID())
	defer topic.Stop()
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}
