package worker

import (
	"encoding/json"
	"log"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/campuskit/centpay/internal/stream"
)

// AlertWorker consumes the alerts topic and fans each event out to the
// operator. Alerts are informational only; nothing is auto-corrected here.
func (wk *Worker) AlertWorker() {
	consumer, err := wk.KafkaStream.CreateConsumer(&stream.StreamConsumer{
		GroupId: alertGroupID,
		Topic:   stream.AlertsTopic,
	})
	if err != nil {
		log.Fatalf("Error creating consumer: %v", err)
	}

	for {
		select {
		case <-wk.Ctx.Done():
			consumer.Close()
			return
		default:
		}

		event := consumer.Poll(100) // Poll every 100ms
		switch e := event.(type) {
		case *kafka.Message:
			var alert stream.AlertEvent
			if err := json.Unmarshal(e.Value, &alert); err != nil {
				wk.Logger.Error("malformed alert event", "error", err, "payload", string(e.Value))
				continue
			}

			wk.ErrHandler.OperatorAlert(alert.Type, alert.Message, alert.WalletID, alert.Reference, alert.Amount)
		case kafka.Error:
			wk.Logger.Error("alert consumer error", "error", e)
		default:
			// Handle other events if needed
		}
	}
}
