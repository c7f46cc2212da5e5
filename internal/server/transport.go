package server

import (
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/morezero/contacts-gateway/internal/config"
	"github.com/morezero/contacts-gateway/pkg/broker"
	"github.com/morezero/contacts-gateway/pkg/broker/amqpbroker"
	"github.com/morezero/contacts-gateway/pkg/broker/kafkabroker"
	"github.com/morezero/contacts-gateway/pkg/broker/membroker"
	"github.com/morezero/contacts-gateway/pkg/broker/natsbroker"
)

const transportLogPrefix = "server:transport"

type role int

const (
	roleGateway role = iota
	roleWorker
)

func (r role) String() string {
	if r == roleWorker {
		return "worker"
	}
	return "gateway"
}

// openTransport connects the binding selected by BROKER.
//
// Workers share a NATS queue group and a Kafka consumer group so requests are split
// between them. Gateways consume replies without a queue group, and on Kafka each
// gateway instance reads in its own group starting from the newest reply.
func openTransport(cfg *config.Config, r role) (broker.Transport, error) {
	switch cfg.Broker {
	case config.BrokerNATS:
		nc := natsbroker.Config{}
		if r == roleWorker {
			nc.QueueGroup = cfg.WorkerQueueGroup
		}
		name := fmt.Sprintf("%s-%s", cfg.COMMSName, r)
		t, err := natsbroker.Dial(cfg.COMMSURL, name, nc)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to NATS: %w", transportLogPrefix, err)
		}
		return t, nil

	case config.BrokerAMQP:
		t, err := amqpbroker.Dial(cfg.AMQPURL, amqpbroker.Config{Prefetch: cfg.AMQPPrefetch})
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to AMQP: %w", transportLogPrefix, err)
		}
		return t, nil

	case config.BrokerKafka:
		kc := kafkabroker.Config{Brokers: cfg.KafkaBrokers, GroupID: cfg.KafkaGroupID}
		if r == roleGateway {
			kc.GroupID = fmt.Sprintf("%s-gateway%s", cfg.KafkaGroupID, cfg.ReplySuffix)
			kc.StartOffset = kafka.LastOffset
		}
		t, err := kafkabroker.New(kc)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to create Kafka transport: %w", transportLogPrefix, err)
		}
		return t, nil

	case config.BrokerMemory:
		return membroker.New(membroker.Config{}), nil

	default:
		return nil, fmt.Errorf("%s - unsupported broker %q", transportLogPrefix, cfg.Broker)
	}
}
