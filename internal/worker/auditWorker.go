// Committed transitions are published to the lifecycle topic after the status write.
// This worker turns each of them into an activity log row so the audit trail does not
// depend on the request that caused the change staying alive.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/cradoe/lendflow/internal/lifecycle"
	"github.com/cradoe/lendflow/internal/models"
	"github.com/cradoe/lendflow/internal/stream"
)

func (wk *Worker) AuditWorker() {
	consumer, err := wk.KafkaStream.CreateConsumer(&stream.StreamConsumer{
		GroupId: lifecycleAuditGroupID,
		Topic:   LifecycleTopic,
	})
	if err != nil {
		wk.Logger.Error("could not create audit consumer", "error", err.Error())
		return
	}
	defer consumer.Close()

	for {
		select {
		case <-wk.Ctx.Done():
			wk.Logger.Info("audit worker received cancellation signal, shutting down")
			return
		default:
			event := consumer.Poll(100)
			switch e := event.(type) {
			case *kafka.Message:
				if err := wk.recordLifecycleEvent(wk.Ctx, e.Value); err != nil {
					wk.Logger.Error("lifecycle event not recorded",
						"partition", e.TopicPartition.String(),
						"error", err.Error(),
					)
				}
			case kafka.Error:
				wk.Logger.Error("kafka error", "error", e.Error())
			case kafka.AssignedPartitions:
				consumer.Assign(e.Partitions)
			case kafka.RevokedPartitions:
				consumer.Unassign()
			}
		}
	}
}

func (wk *Worker) recordLifecycleEvent(ctx context.Context, body []byte) error {
	var msg lifecycle.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode lifecycle message: %w", err)
	}
	if msg.ApplicationID == "" {
		return fmt.Errorf("lifecycle message without application id")
	}

	_, err := wk.DB.Activity().Insert(ctx, &models.ActivityLog{
		UserID:      msg.Actor,
		Entity:      models.ActivityLogApplicationEntity,
		EntityId:    msg.ApplicationID,
		Description: msg.Description(),
	})
	return err
}
