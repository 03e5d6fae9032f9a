package main

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// EventPublisher mirrors public room events to an outside consumer.
// Private events (divine results, acks, errors) are never published.
type EventPublisher interface {
	Publish(roomID string, ev ServerEvent) error
	Close()
}

func roomSubject(roomID string) string {
	return "rooms." + roomID + ".events"
}

type natsPublisher struct {
	nc *nats.Conn
}

func newNATSPublisher(url string) (*natsPublisher, error) {
	opts := []nats.Option{
		nats.Name("werewolf-session"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &natsPublisher{nc: nc}, nil
}

func (p *natsPublisher) Publish(roomID string, ev ServerEvent) error {
	data, err := encodeServerEvent(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(roomSubject(roomID), data)
}

func (p *natsPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("NATS drain failed")
		p.nc.Close()
	}
}
