// Package testenv starts throwaway infrastructure for integration suites.
package testenv

import (
	"context"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

const startupTimeout = 2 * time.Minute

type PostgresContainer struct {
	C   *postgres.PostgresContainer
	URL string
}

func StartPostgres(ctx context.Context) (*PostgresContainer, error) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("booking"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, err
	}

	pgURL, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(pgC)
		return nil, err
	}
	return &PostgresContainer{C: pgC, URL: pgURL}, nil
}

func (p *PostgresContainer) Terminate(ctx context.Context) {
	_ = testcontainers.TerminateContainer(p.C, testcontainers.StopContext(ctx))
}

type RedisContainer struct {
	C    *tcredis.RedisContainer
	Addr string
}

func StartRedis(ctx context.Context) (*RedisContainer, error) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	rC, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, err
	}

	addr, err := rC.Endpoint(ctx, "")
	if err != nil {
		_ = testcontainers.TerminateContainer(rC)
		return nil, err
	}
	return &RedisContainer{C: rC, Addr: addr}, nil
}

func (r *RedisContainer) Terminate(ctx context.Context) {
	_ = testcontainers.TerminateContainer(r.C, testcontainers.StopContext(ctx))
}

type KafkaContainer struct {
	C       *kafka.KafkaContainer
	Brokers []string
}

func StartKafka(ctx context.Context) (*KafkaContainer, error) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	kC, err := kafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		kafka.WithClusterID("booking-test"),
	)
	if err != nil {
		return nil, err
	}

	brokers, err := kC.Brokers(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(kC)
		return nil, err
	}
	return &KafkaContainer{C: kC, Brokers: brokers}, nil
}

func (k *KafkaContainer) Terminate(ctx context.Context) {
	_ = testcontainers.TerminateContainer(k.C, testcontainers.StopContext(ctx))
}
