package tele

import (
	"context"

	"github.com/temoto/svlink/log2"
	tele_config "github.com/temoto/svlink/tele/config"
)

// Tele transport contract:
// - Init fails only with invalid config, ignores network errors
// - Send* deliver within timeout or fail; success includes ack from broker
// - application may start without network available
type Transporter interface {
	Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config, willPayload []byte) error
	Close()
	SendState(payload []byte) bool
	// topicSuffix is appended to configured prefix: "<prefix>/<suffix>"
	Send(topicSuffix string, payload []byte) bool
}
