package tele

import (
	"context"

	"github.com/temoto/svlink/log2"
	"github.com/temoto/svlink/packet"
	tele_config "github.com/temoto/svlink/tele/config"
)

// Teler forwards console side events to telemetry storage.
type Teler interface {
	Init(context.Context, *log2.Log, tele_config.Config) error
	Close()
	Packet(packet.Packet)
	State(connected bool)
	Error(error)
}

type stub struct{}

func (stub) Init(context.Context, *log2.Log, tele_config.Config) error { return nil }
func (stub) Close()                                                    {}
func (stub) Packet(packet.Packet)                                      {}
func (stub) State(bool)                                                {}
func (stub) Error(error)                                               {}

func NewStub() Teler { return stub{} }
