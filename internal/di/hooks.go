package di

import (
	"context"

	"github.com/segmentio/kafka-go"

	pkgkafka "DeskCast/pkg/kafka"
	applogger "DeskCast/pkg/logger"
)

// RunIDHook copies the run_id header into the handler context and logs
// every failed handling attempt.
func RunIDHook(l *applogger.Logger) pkgkafka.ConsumerHook {
	return pkgkafka.HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			return pkgkafka.WithRunID(ctx, pkgkafka.ExtractHeader(km, pkgkafka.HeaderRunID)), km, data, nil
		},
		Err: func(ctx context.Context, topic string, km kafka.Message, _ []byte, err error) {
			l.Warn("run event handling failed",
				applogger.String("topic", topic),
				applogger.String("run_id", pkgkafka.RunIDFromContext(ctx)),
				applogger.Int64("offset", km.Offset),
				applogger.Error(err),
			)
		},
	}
}
