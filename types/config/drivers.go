package config

// StorageDriver selects the persistence backend for jobs, history and
// recurring templates.
type StorageDriver int

const (
	Memory StorageDriver = iota
	Postgres
)

func (d StorageDriver) String() string {
	switch d {
	case Memory:
		return "memory"
	case Postgres:
		return "postgres"
	default:
		return "unknown"
	}
}

// QueueDriver selects the backend holding waiting job ids.
type QueueDriver int

const (
	MemoryQueue QueueDriver = iota
	RedisQueue
)

func (d QueueDriver) String() string {
	switch d {
	case MemoryQueue:
		return "memory"
	case RedisQueue:
		return "redis"
	default:
		return "unknown"
	}
}

// MessageQueueDriver selects the broker carrying cross-instance events.
type MessageQueueDriver int

const (
	NoBroker MessageQueueDriver = iota
	RabbitMQ
)

func (d MessageQueueDriver) String() string {
	switch d {
	case NoBroker:
		return "none"
	case RabbitMQ:
		return "rabbitmq"
	default:
		return "unknown"
	}
}
